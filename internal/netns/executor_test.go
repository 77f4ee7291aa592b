package netns

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestBuildArgsWithRootHelperAndNamespace(t *testing.T) {
	e := NewIPExecutor("sudo -n", 0)
	got := e.buildArgs("qrouter-r1", []string{"kill", "-9", "--", "-42"})
	want := []string{"sudo", "-n", "ip", "netns", "exec", "qrouter-r1", "kill", "-9", "--", "-42"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected argv: %#v", got)
	}
}

func TestBuildArgsWithoutNamespace(t *testing.T) {
	e := NewIPExecutor("", 0)
	got := e.buildArgs("", []string{"true"})
	if !reflect.DeepEqual(got, []string{"true"}) {
		t.Fatalf("unexpected argv: %#v", got)
	}
}

func TestExecuteUsesCommandFactory(t *testing.T) {
	var gotName string
	var gotArgs []string
	e := NewIPExecutor("", time.Second)
	e.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotName = name
		gotArgs = args
		return exec.CommandContext(ctx, "true")
	}
	if _, err := e.Execute(context.Background(), "ns1", "pptpd", "--delegate"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if gotName != "ip" || strings.Join(gotArgs, " ") != "netns exec ns1 pptpd --delegate" {
		t.Fatalf("unexpected command: %s %v", gotName, gotArgs)
	}
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	if _, err := NewIPExecutor("", 0).Execute(context.Background(), "ns1"); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := NewIPExecutor("", 20*time.Millisecond)
	e.command = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sleep", "5")
	}
	_, err := e.Execute(context.Background(), "", "sleep")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestResolverNamespace(t *testing.T) {
	runDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(runDir, "qrouter-r1"), nil, 0o644); err != nil {
		t.Fatalf("write namespace marker: %v", err)
	}
	r := NewResolver(runDir)
	if got := r.Namespace("r1"); got != "qrouter-r1" {
		t.Fatalf("expected qrouter-r1, got %q", got)
	}
	if got := r.Namespace("r2"); got != "" {
		t.Fatalf("expected empty namespace for unknown router, got %q", got)
	}
	if got := r.Namespace("../r1"); got != "" {
		t.Fatalf("expected path-like router id to be rejected, got %q", got)
	}
}

func TestMockExecutorRecordsCalls(t *testing.T) {
	m := &MockExecutor{}
	_, _ = m.Execute(context.Background(), "ns", "kill", "42")
	_, _ = m.Execute(context.Background(), "ns", "pptpd")
	if len(m.Calls()) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(m.Calls()))
	}
	kills := m.CallsTo("kill")
	if len(kills) != 1 || kills[0].String() != "ns: kill 42" {
		t.Fatalf("unexpected kill calls: %#v", kills)
	}
	m.Reset()
	if len(m.Calls()) != 0 {
		t.Fatalf("expected reset to clear calls")
	}
}
