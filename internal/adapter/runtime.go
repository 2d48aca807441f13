// Package adapter implements the Adapter Runtime: one subprocess speaking
// line-delimited JSON-RPC 2.0 over stdio, with request/response correlation,
// notification broadcast, a bounded replay ring, and graceful shutdown.
package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kandev/acp-gateway/internal/agent"
	"github.com/kandev/acp-gateway/internal/broadcast"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/pkg/jsonrpc"
)

// DefaultRequestTimeout is used when the caller does not specify one.
const DefaultRequestTimeout = 120 * time.Second

// broadcastCapacity is the per-subscriber buffer of the notification hub.
const broadcastCapacity = 512

// PostOutcome is what Post returns on success: either a matched response
// envelope, or an acknowledgement that a notification/response-forward was
// flushed to the subprocess.
type PostOutcome struct {
	Response *jsonrpc.Envelope
	Accepted bool
}

// ExitInfo describes how the subprocess terminated, carried on the
// synthesized `_adapter/agent_exited` notification.
type ExitInfo struct {
	Success bool `json:"success"`
	Code    int  `json:"code"`
}

// Runtime owns one agent subprocess end to end.
type Runtime struct {
	log            *logger.Logger
	spec           agent.LaunchSpec
	requestTimeout time.Duration

	cmd   *exec.Cmd
	pid   int
	stdin io.WriteCloser
	stdinMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *jsonrpc.Envelope

	hub  *broadcast.Hub[StreamMessage]
	ring *ring

	seqMu sync.Mutex
	seq   uint64

	stderrCap *StderrCapture

	spawnedAt time.Time

	shuttingDown atomic.Bool
	firstStdout  atomic.Bool

	group      *errgroup.Group
	groupCtx   context.Context
	cancelPump context.CancelFunc

	exitOnce sync.Once
	exitInfo ExitInfo
	exitCh   chan struct{}
}

// Start spawns the subprocess described by spec and installs the three
// background pumps. requestTimeout <= 0 means DefaultRequestTimeout.
func Start(log *logger.Logger, spec agent.LaunchSpec, requestTimeout time.Duration) (*Runtime, error) {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	cmd := exec.Command(spec.Program, spec.Argv...)
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, newError(ErrMissingStdin, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newError(ErrMissingStdout, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, newError(ErrMissingStderr, err)
	}

	display := formatCommandForDisplay(spec.Program, spec.Argv)
	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: ErrSpawn, Command: display, Err: err}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(pumpCtx)

	rt := &Runtime{
		log:            log,
		spec:           spec,
		requestTimeout: requestTimeout,
		cmd:            cmd,
		pid:            cmd.Process.Pid,
		stdin:          stdin,
		pending:        make(map[string]chan *jsonrpc.Envelope),
		hub:            broadcast.NewHub[StreamMessage](broadcastCapacity),
		ring:           newRing(RingBufferSize),
		stderrCap:      newStderrCapture(),
		spawnedAt:      time.Now(),
		group:          group,
		groupCtx:       groupCtx,
		cancelPump:     cancel,
		exitCh:         make(chan struct{}),
	}

	rt.log.Info("adapter started", zapPid(rt.pid), zapCommand(display))

	group.Go(func() error { rt.stdoutLoop(stdout); return nil })
	group.Go(func() error { rt.stderrLoop(stderr); return nil })
	group.Go(func() error { rt.exitWatcher(); return nil })

	return rt, nil
}

// Post submits one JSON-RPC message to the subprocess.
func (rt *Runtime) Post(ctx context.Context, env *jsonrpc.Envelope) (*PostOutcome, error) {
	if rt.shuttingDown.Load() {
		return nil, newError(ErrShuttingDown, nil)
	}
	env.JSONRPC = jsonrpc.Version

	switch env.Classify() {
	case jsonrpc.KindInvalid:
		return nil, newError(ErrInvalidEnvelope, nil)

	case jsonrpc.KindRequest:
		key, err := jsonrpc.IDKey(env.ID)
		if err != nil {
			return nil, &Error{Kind: ErrInvalidEnvelope, Err: err}
		}
		waiter := make(chan *jsonrpc.Envelope, 1)

		rt.pendingMu.Lock()
		if rt.shuttingDown.Load() {
			rt.pendingMu.Unlock()
			return nil, newError(ErrShuttingDown, nil)
		}
		rt.pending[key] = waiter
		rt.pendingMu.Unlock()

		if err := rt.writeLine(env); err != nil {
			rt.removePending(key)
			return nil, err
		}

		timer := time.NewTimer(rt.requestTimeout)
		defer timer.Stop()
		select {
		case resp, ok := <-waiter:
			if !ok {
				return nil, newError(ErrShuttingDown, nil)
			}
			return &PostOutcome{Response: resp}, nil
		case <-timer.C:
			rt.removePending(key)
			return nil, newError(ErrTimeout, nil)
		case <-ctx.Done():
			rt.removePending(key)
			return nil, ctx.Err()
		}

	case jsonrpc.KindNotification, jsonrpc.KindResponse:
		if err := rt.writeLine(env); err != nil {
			return nil, err
		}
		return &PostOutcome{Accepted: true}, nil
	}
	return nil, newError(ErrInvalidEnvelope, nil)
}

func (rt *Runtime) removePending(key string) {
	rt.pendingMu.Lock()
	delete(rt.pending, key)
	rt.pendingMu.Unlock()
}

func (rt *Runtime) writeLine(env *jsonrpc.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return &Error{Kind: ErrSerialize, Err: err}
	}
	raw = append(raw, '\n')

	rt.stdinMu.Lock()
	defer rt.stdinMu.Unlock()
	if _, err := rt.stdin.Write(raw); err != nil {
		return &Error{Kind: ErrWrite, Err: err}
	}
	return nil
}

// Subscribe returns the replay slice past lastEventID (nil means "from the
// start of the ring") plus a live subscription, both obtained while holding
// the ring lock only long enough to copy it.
func (rt *Runtime) Subscribe(lastEventID *uint64) ([]StreamMessage, *broadcast.Subscription[StreamMessage]) {
	sub := rt.hub.Subscribe()
	var since uint64
	if lastEventID != nil {
		since = *lastEventID
	}
	return rt.ring.since(since), sub
}

// PID returns the subprocess's process id, for diagnostics.
func (rt *Runtime) PID() int { return rt.pid }

// SpawnedAt returns when the subprocess was started.
func (rt *Runtime) SpawnedAt() time.Time { return rt.spawnedAt }

// StderrSnapshot returns the head/tail diagnostics view.
func (rt *Runtime) StderrSnapshot() Snapshot { return rt.stderrCap.Snapshot() }

// RingLen reports current ring occupancy (Ring-bound test property).
func (rt *Runtime) RingLen() int { return rt.ring.len() }

func (rt *Runtime) nextSeq() uint64 {
	rt.seqMu.Lock()
	defer rt.seqMu.Unlock()
	rt.seq++
	return rt.seq
}

// broadcastLine pushes a raw stdout line (or a synthesized envelope) onto
// the ring and hub, in read order.
func (rt *Runtime) broadcastLine(payload json.RawMessage) {
	msg := StreamMessage{Sequence: rt.nextSeq(), Payload: payload}
	rt.ring.push(msg)
	rt.hub.Publish(msg)
}

type lineSniff struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func (rt *Runtime) stdoutLoop(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := trimCR(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !rt.firstStdout.Load() {
			rt.firstStdout.Store(true)
			rt.log.Info("adapter received first stdout line")
		}

		var sniff lineSniff
		if err := json.Unmarshal(line, &sniff); err != nil {
			invalid, _ := json.Marshal(map[string]any{
				"jsonrpc": jsonrpc.Version,
				"method":  "_adapter/invalid_stdout",
				"params": map[string]any{
					"error": err.Error(),
					"raw":   string(line),
				},
			})
			rt.log.Warn("adapter stdout: invalid JSON line", zapLineNumber(lineNumber))
			rt.broadcastLine(invalid)
			continue
		}

		hasID := len(sniff.ID) > 0 && string(sniff.ID) != "null"
		isResponseShape := hasID && sniff.Method == ""
		if isResponseShape {
			key, keyErr := jsonrpc.IDKey(sniff.ID)
			if keyErr == nil {
				rt.pendingMu.Lock()
				waiter, found := rt.pending[key]
				if found {
					delete(rt.pending, key)
				}
				rt.pendingMu.Unlock()

				if found {
					var env jsonrpc.Envelope
					if err := json.Unmarshal(line, &env); err == nil {
						select {
						case waiter <- &env:
						default:
						}
					}
					rt.log.Debug("adapter stdout: response matched pending request")
					cp := make(json.RawMessage, len(line))
					copy(cp, line)
					rt.broadcastLine(cp)
					continue
				}
				rt.log.Warn("adapter stdout: response has no matching pending request (orphan)")
			}
		}

		cp := make(json.RawMessage, len(line))
		copy(cp, line)
		rt.broadcastLine(cp)
	}
	if err := scanner.Err(); err != nil {
		rt.log.Warn("adapter stdout: scan error", zapErr(err))
	}
}

func (rt *Runtime) stderrLoop(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := string(trimCR(scanner.Bytes()))
		rt.stderrCap.Line(line)
		rt.log.Debug("adapter stderr", zapLine(line))
	}
}

func (rt *Runtime) exitWatcher() {
	err := rt.cmd.Wait()
	code := 0
	success := err == nil
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	rt.exitOnce.Do(func() {
		rt.exitInfo = ExitInfo{Success: success, Code: code}
		close(rt.exitCh)
	})

	rt.log.Info("adapter subprocess exited", zapBool("success", success), zapInt("code", code))

	payload, _ := json.Marshal(map[string]any{
		"jsonrpc": jsonrpc.Version,
		"method":  "_adapter/agent_exited",
		"params":  ExitInfo{Success: success, Code: code},
	})
	rt.broadcastLine(payload)

	rt.markShuttingDown(newError(ErrShuttingDown, fmt.Errorf("subprocess exited")))
}

// Wait blocks until the subprocess has exited and returns its ExitInfo.
func (rt *Runtime) Wait() ExitInfo {
	<-rt.exitCh
	return rt.exitInfo
}

// Shutdown is idempotent: it stops accepting new posts, drains pending
// waiters (whose Post returns ErrShuttingDown), then attempts graceful termination
// followed by a kill.
func (rt *Runtime) Shutdown(ctx context.Context) {
	rt.markShuttingDown(newError(ErrShuttingDown, fmt.Errorf("adapter shutdown")))

	if rt.cmd.Process != nil {
		_ = rt.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-rt.exitCh:
	case <-time.After(5 * time.Second):
		if rt.cmd.Process != nil {
			_ = rt.cmd.Process.Kill()
		}
		select {
		case <-rt.exitCh:
		case <-time.After(2 * time.Second):
		}
	}

	rt.cancelPump()
	_ = rt.group.Wait()
	rt.hub.CloseAll()
}

func (rt *Runtime) markShuttingDown(drainErr error) {
	if !rt.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	rt.pendingMu.Lock()
	pending := rt.pending
	rt.pending = make(map[string]chan *jsonrpc.Envelope)
	rt.pendingMu.Unlock()
	for _, waiter := range pending {
		close(waiter)
	}
	_ = drainErr
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
