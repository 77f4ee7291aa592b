// Package netns runs commands inside named network namespaces and resolves
// the namespace that belongs to a router.
package netns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Executor abstracts command execution inside a network namespace.
type Executor interface {
	Execute(ctx context.Context, namespace string, args ...string) ([]byte, error)
}

// IPExecutor runs commands through `ip netns exec`, optionally prefixed by a
// root helper such as sudo.
type IPExecutor struct {
	rootHelper []string
	timeout    time.Duration
	command    func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewIPExecutor creates an executor. A zero timeout leaves commands bounded
// only by the caller's context.
func NewIPExecutor(rootHelper string, timeout time.Duration) *IPExecutor {
	return &IPExecutor{
		rootHelper: strings.Fields(rootHelper),
		timeout:    timeout,
		command:    exec.CommandContext,
	}
}

// Execute runs args inside namespace and returns combined output.
func (e *IPExecutor) Execute(ctx context.Context, namespace string, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("command is required")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	argv := e.buildArgs(namespace, args)
	out, err := e.command(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("%s: %w", strings.Join(args, " "), ctxErr)
		}
		return out, fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (e *IPExecutor) buildArgs(namespace string, args []string) []string {
	argv := make([]string, 0, len(e.rootHelper)+len(args)+4)
	argv = append(argv, e.rootHelper...)
	if namespace != "" {
		argv = append(argv, "ip", "netns", "exec", namespace)
	}
	return append(argv, args...)
}

// Resolver maps router ids to the namespaces created by the L3 agent.
type Resolver struct {
	runDir string
	prefix string
}

// NewResolver creates a resolver that looks for namespaces under runDir.
func NewResolver(runDir string) *Resolver {
	trimmed := strings.TrimSpace(runDir)
	if trimmed == "" {
		trimmed = "/var/run/netns"
	}
	return &Resolver{runDir: trimmed, prefix: "qrouter-"}
}

// Namespace returns the namespace for routerID, or "" when it does not exist
// yet.
func (r *Resolver) Namespace(routerID string) string {
	routerID = strings.TrimSpace(routerID)
	if routerID == "" || strings.ContainsAny(routerID, `/\`) {
		return ""
	}
	name := r.prefix + routerID
	if _, err := os.Stat(filepath.Join(r.runDir, name)); err != nil {
		return ""
	}
	return name
}
