package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// PathResolver is the default Resolver: it looks up each real agent's binary
// on PATH (or at an explicit override path) and never attempts to install
// anything, leaving that to a surrounding installer. The Mock kind is
// special-cased to the Go binary produced by cmd/mockagent, taken from
// MockAgentBinary on every call.
//
// This mirrors the detection strategy used elsewhere in this codebase
// (WithCommand/WithFileExists): explicit override first, PATH lookup second,
// no side effects on IsInstalled.
type PathResolver struct {
	// MockAgentBinary is the absolute path to a built mockagent binary. It
	// is required for Kind Mock to resolve; left empty in production
	// deployments that never exercise Mock.
	MockAgentBinary string
	// Overrides maps a Kind to an explicit binary path, bypassing PATH
	// lookup (e.g. Claude -> /opt/claude/bin/claude).
	Overrides map[Kind]string

	mu       sync.Mutex
	resolved map[Kind]string
}

// NewPathResolver builds a PathResolver with the given per-kind path
// overrides and mock binary location.
func NewPathResolver(mockAgentBinary string, overrides map[Kind]string) *PathResolver {
	return &PathResolver{
		MockAgentBinary: mockAgentBinary,
		Overrides:       overrides,
		resolved:        make(map[Kind]string),
	}
}

func (r *PathResolver) IsInstalled(ctx context.Context, kind Kind) (bool, error) {
	if kind == Mock {
		return true, nil
	}
	_, err := r.locate(kind)
	return err == nil, nil
}

// EnsureInstalled never installs anything; it only confirms the binary is
// already reachable. A real installer is an out-of-scope daemon concern.
func (r *PathResolver) EnsureInstalled(ctx context.Context, kind Kind) error {
	if kind == Mock {
		if r.MockAgentBinary == "" {
			return fmt.Errorf("mock agent binary not configured")
		}
		return nil
	}
	_, err := r.locate(kind)
	return err
}

func (r *PathResolver) ResolveAgentProcess(ctx context.Context, kind Kind, cwd string) (LaunchSpec, error) {
	if kind == Mock {
		if r.MockAgentBinary == "" {
			return LaunchSpec{}, fmt.Errorf("mock agent binary not configured")
		}
		return LaunchSpec{Program: r.MockAgentBinary, Env: passthroughEnv()}, nil
	}

	program, err := r.locate(kind)
	if err != nil {
		return LaunchSpec{}, err
	}
	return LaunchSpec{Program: program, Env: passthroughEnv()}, nil
}

func (r *PathResolver) locate(kind Kind) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if path, ok := r.resolved[kind]; ok {
		return path, nil
	}
	if override, ok := r.Overrides[kind]; ok && override != "" {
		r.resolved[kind] = override
		return override, nil
	}

	info, ok := Lookup(kind)
	if !ok {
		return "", fmt.Errorf("unrecognized agent kind: %s", kind)
	}
	path, err := exec.LookPath(info.BinaryHint)
	if err != nil {
		return "", fmt.Errorf("%s binary %q not found on PATH: %w", kind, info.BinaryHint, err)
	}
	r.resolved[kind] = path
	return path, nil
}

// passthroughEnv copies the gateway process's own environment into the
// subprocess; credential discovery (API keys, auth tokens) is left to
// whatever the surrounding shell already exports.
func passthroughEnv() map[string]string {
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}
