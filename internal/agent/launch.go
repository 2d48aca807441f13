package agent

import "context"

// LaunchSpec is the immutable tuple the installer produces and the adapter
// runtime consumes to spawn a subprocess: program path, argv, and the
// environment map to copy into the child.
type LaunchSpec struct {
	Program string
	Argv    []string
	Env     map[string]string
}

// Resolver resolves a Kind into a LaunchSpec and answers install-state
// queries. It is the narrow contract the out-of-scope installer and
// credentials-discovery collaborators must satisfy; this repo's own
// implementation is PathResolver, which locates binaries but never installs
// anything, so real installation is left to the surrounding daemon.
type Resolver interface {
	// IsInstalled reports whether the agent's binary is present and usable,
	// without side effects. Mock is always installed.
	IsInstalled(ctx context.Context, kind Kind) (bool, error)
	// EnsureInstalled installs the agent's binary if missing. Implementations
	// must be safe to call concurrently for different kinds; callers
	// serialize per-kind via their own lock (see proxy.Runtime).
	EnsureInstalled(ctx context.Context, kind Kind) error
	// ResolveAgentProcess produces the LaunchSpec to spawn kind in cwd.
	ResolveAgentProcess(ctx context.Context, kind Kind, cwd string) (LaunchSpec, error)
}
