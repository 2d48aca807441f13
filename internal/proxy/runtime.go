// Package proxy implements the ACP Proxy Runtime: at most one Adapter per
// connection, created on demand under install gating, with
// adapter-error-to-protocol-error mapping.
package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/acp-gateway/internal/adapter"
	"github.com/kandev/acp-gateway/internal/agent"
	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

// MessageSink receives every message broadcast by an adapter, in order, for
// as long as the instance lives. The session manager implements this to
// drive the universal-event pipeline without the proxy importing it.
type MessageSink interface {
	Ingest(connectionID string, kind agent.Kind, msg adapter.StreamMessage)
}

// Instance is one ACP Proxy Instance: a connection bound to one adapter.
type Instance struct {
	ConnectionID string
	Kind         agent.Kind
	Adapter      *adapter.Runtime
	CreatedAtMS  int64

	sseMu     sync.Mutex
	sseActive bool
}

// Runtime is the ACP Proxy Runtime.
type Runtime struct {
	log      *logger.Logger
	resolver agent.Resolver
	sink     MessageSink

	requestTimeout    time.Duration
	requirePreinstall bool

	mu            sync.Mutex
	instances     map[string]*Instance
	creationLocks map[string]*sync.Mutex
	installLocks  map[agent.Kind]*sync.Mutex
}

// Options configures a Runtime.
type Options struct {
	RequestTimeout    time.Duration
	RequirePreinstall bool
}

// New constructs a Runtime. sink may be nil in tests that don't care about
// universal-event forwarding.
func New(log *logger.Logger, resolver agent.Resolver, sink MessageSink, opts Options) *Runtime {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = adapter.DefaultRequestTimeout
	}
	return &Runtime{
		log:               log,
		resolver:          resolver,
		sink:              sink,
		requestTimeout:    timeout,
		requirePreinstall: opts.RequirePreinstall,
		instances:         make(map[string]*Instance),
		creationLocks:     make(map[string]*sync.Mutex),
		installLocks:      make(map[agent.Kind]*sync.Mutex),
	}
}

func (r *Runtime) lookup(connectionID string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[connectionID]
	return inst, ok
}

// Post resolves the instance for connectionID (creating one if bootstrapAgent
// is given and none exists), then forwards payload to its adapter.
func (r *Runtime) Post(ctx context.Context, connectionID string, bootstrapAgent *agent.Kind, env *jsonrpc.Envelope) (*adapter.PostOutcome, string, error) {
	inst, ok := r.lookup(connectionID)
	if !ok {
		if bootstrapAgent == nil {
			return nil, "", apperrors.New(apperrors.KindInvalidRequest, "unknown connection and no bootstrap agent given")
		}
		var err error
		inst, err = r.getOrCreateInstance(ctx, connectionID, *bootstrapAgent)
		if err != nil {
			return nil, "", err
		}
	} else if bootstrapAgent != nil && *bootstrapAgent != inst.Kind {
		return nil, "", apperrors.Newf(apperrors.KindConflict, "connection %s is bound to agent %s, not %s", connectionID, inst.Kind, *bootstrapAgent)
	}

	outcome, err := inst.Adapter.Post(ctx, env)
	if err != nil {
		return nil, "", r.mapAdapterError(inst.Kind, err)
	}
	return outcome, connectionID, nil
}

// SSE subscribes to the instance's adapter stream, replaying everything with
// sequence > lastEventID. Only one SSE subscriber may be attached to a
// connection at a time; a second concurrent call is refused with Conflict.
func (r *Runtime) SSE(connectionID string, lastEventID *uint64) ([]adapter.StreamMessage, func(), <-chan adapter.StreamMessage, error) {
	inst, ok := r.lookup(connectionID)
	if !ok {
		return nil, nil, nil, apperrors.Newf(apperrors.KindClientNotFound, "ACP client not found: %s", connectionID)
	}

	inst.sseMu.Lock()
	if inst.sseActive {
		inst.sseMu.Unlock()
		return nil, nil, nil, apperrors.Newf(apperrors.KindConflict, "connection %s already has an active SSE subscriber", connectionID)
	}
	inst.sseActive = true
	inst.sseMu.Unlock()

	replay, sub := inst.Adapter.Subscribe(lastEventID)
	unsubscribe := func() {
		sub.Unsubscribe()
		inst.sseMu.Lock()
		inst.sseActive = false
		inst.sseMu.Unlock()
	}
	return replay, unsubscribe, sub.C(), nil
}

// Delete removes and shuts down the instance for connectionID.
func (r *Runtime) Delete(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	inst, ok := r.instances[connectionID]
	if ok {
		delete(r.instances, connectionID)
	}
	r.mu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.KindClientNotFound, "ACP client not found: %s", connectionID)
	}
	inst.Adapter.Shutdown(ctx)
	return nil
}

// ShutdownAll drains and shuts down every instance.
func (r *Runtime) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	instances := make([]*Instance, 0, len(r.instances))
	for id, inst := range r.instances {
		instances = append(instances, inst)
		delete(r.instances, id)
	}
	r.mu.Unlock()
	for _, inst := range instances {
		inst.Adapter.Shutdown(ctx)
	}
}

func (r *Runtime) getOrCreateInstance(ctx context.Context, connectionID string, kind agent.Kind) (*Instance, error) {
	if _, ok := agent.Lookup(kind); !ok {
		return nil, apperrors.Newf(apperrors.KindUnsupportedAgent, "unsupported agent kind: %s", kind)
	}

	r.mu.Lock()
	if inst, ok := r.instances[connectionID]; ok {
		r.mu.Unlock()
		if inst.Kind != kind {
			return nil, apperrors.Newf(apperrors.KindConflict, "connection %s is bound to agent %s, not %s", connectionID, inst.Kind, kind)
		}
		return inst, nil
	}
	lock, ok := r.creationLocks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		r.creationLocks[connectionID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Double-check after acquiring the per-connection creation lock: another
	// goroutine may have created it while we waited.
	r.mu.Lock()
	if inst, ok := r.instances[connectionID]; ok {
		r.mu.Unlock()
		if inst.Kind != kind {
			return nil, apperrors.Newf(apperrors.KindConflict, "connection %s is bound to agent %s, not %s", connectionID, inst.Kind, kind)
		}
		return inst, nil
	}
	r.mu.Unlock()

	if err := r.ensureInstalled(ctx, kind); err != nil {
		return nil, err
	}

	spec, err := r.resolver.ResolveAgentProcess(ctx, kind, "/")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInstallFailed, "resolve agent process", err)
	}

	rt, err := adapter.Start(r.log, spec, r.requestTimeout)
	if err != nil {
		return nil, r.mapAdapterError(kind, err)
	}

	inst := &Instance{ConnectionID: connectionID, Kind: kind, Adapter: rt, CreatedAtMS: time.Now().UnixMilli()}

	r.mu.Lock()
	r.instances[connectionID] = inst
	r.mu.Unlock()

	if r.sink != nil {
		go r.pumpMessages(inst)
	}
	return inst, nil
}

func (r *Runtime) ensureInstalled(ctx context.Context, kind agent.Kind) error {
	if kind == agent.Mock {
		return nil
	}

	r.mu.Lock()
	lock, ok := r.installLocks[kind]
	if !ok {
		lock = &sync.Mutex{}
		r.installLocks[kind] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	installed, err := r.resolver.IsInstalled(ctx, kind)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInstallFailed, "check install state", err)
	}
	if installed {
		return nil
	}
	if r.requirePreinstall {
		return apperrors.Newf(apperrors.KindAgentNotInstalled, "agent %s is not installed and auto-install is disabled", kind)
	}
	if err := r.resolver.EnsureInstalled(ctx, kind); err != nil {
		return apperrors.Wrap(apperrors.KindInstallFailed, "install agent "+string(kind), err)
	}
	return nil
}

// pumpMessages forwards every message an adapter broadcasts to the sink,
// for the adapter's entire lifetime, starting from the beginning of its
// ring so no early session/new response is missed.
func (r *Runtime) pumpMessages(inst *Instance) {
	replay, sub := inst.Adapter.Subscribe(nil)
	for _, msg := range replay {
		r.sink.Ingest(inst.ConnectionID, inst.Kind, msg)
	}
	for msg := range sub.C() {
		r.sink.Ingest(inst.ConnectionID, inst.Kind, msg)
	}
}
