package pptp

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/ppp_options.tmpl
var defaultOptionsTemplate string

type optionsData struct {
	LocalIP string
	Name    string
	IPParam string
}

// LoadOptionsTemplate parses the ppp options template at path, or the
// built-in template when path is empty.
func LoadOptionsTemplate(path string) (*template.Template, error) {
	text := defaultOptionsTemplate
	name := "ppp_options"
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		raw, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, fmt.Errorf("read options template: %w", err)
		}
		text = string(raw)
		name = filepath.Base(trimmed)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse options template: %w", err)
	}
	return tmpl, nil
}

func renderOptions(tmpl *template.Template, serviceID, localIP string) ([]byte, error) {
	var buf bytes.Buffer
	data := optionsData{LocalIP: localIP, Name: serviceID, IPParam: serviceID}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
