package netns

import (
	"context"
	"strings"
	"sync"
)

// Call records one MockExecutor invocation.
type Call struct {
	Namespace string
	Args      []string
}

// String renders the call as "namespace: arg0 arg1 ...".
func (c Call) String() string {
	return c.Namespace + ": " + strings.Join(c.Args, " ")
}

// MockExecutor is a deterministic executor used by unit tests.
type MockExecutor struct {
	mu    sync.Mutex
	calls []Call

	ExecuteFunc func(namespace string, args ...string) ([]byte, error)
}

func (m *MockExecutor) Execute(_ context.Context, namespace string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Namespace: namespace, Args: append([]string(nil), args...)})
	fn := m.ExecuteFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(namespace, args...)
	}
	return nil, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockExecutor) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsTo returns recorded calls whose first argument is name.
func (m *MockExecutor) CallsTo(name string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, call := range m.calls {
		if len(call.Args) > 0 && call.Args[0] == name {
			out = append(out, call)
		}
	}
	return out
}

// Reset clears recorded calls.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
