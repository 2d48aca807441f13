package session

import (
	"time"

	"github.com/kandev/acp-gateway/internal/agent"
)

// Record is the session manager's authoritative row for one session.
// HTTP-layer views are projected from this record alone; the manager never
// returns this type to callers, only View copies of it.
type Record struct {
	SessionID       string
	NativeSessionID string
	ConnectionID    string
	Agent           agent.Kind
	Cwd             string
	Title           string
	Model           string
	Mode            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Ended           bool
	EventCount      uint64
	Metadata        map[string]any
	// AutoApprove holds permission actions the client asked to always
	// accept for the remainder of this session.
	AutoApprove map[string]struct{}
}

func newRecord(sessionID, connectionID string, kind agent.Kind, cwd string) *Record {
	now := time.Now().UTC()
	return &Record{
		SessionID:    sessionID,
		ConnectionID: connectionID,
		Agent:        kind,
		Cwd:          cwd,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     make(map[string]any),
		AutoApprove:  make(map[string]struct{}),
	}
}

// View is the read-only snapshot returned to callers outside the package.
type View struct {
	SessionID       string
	NativeSessionID string
	ConnectionID    string
	Agent           agent.Kind
	Cwd             string
	Title           string
	Model           string
	Mode            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Ended           bool
	EventCount      uint64
}

func (r *Record) view() View {
	return View{
		SessionID:       r.SessionID,
		NativeSessionID: r.NativeSessionID,
		ConnectionID:    r.ConnectionID,
		Agent:           r.Agent,
		Cwd:             r.Cwd,
		Title:           r.Title,
		Model:           r.Model,
		Mode:            r.Mode,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Ended:           r.Ended,
		EventCount:      r.EventCount,
	}
}
