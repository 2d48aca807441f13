package adapter

import "sync"

// Stderr head/tail capture bounds.
const (
	StderrHeadLines = 20
	StderrTailLines = 50
)

// StderrCapture keeps a bounded, lossy-in-the-middle record of a
// subprocess's stderr: the first StderrHeadLines and the last
// StderrTailLines, plus a total-line counter. The missing middle is never
// reconstructed.
type StderrCapture struct {
	mu    sync.Mutex
	head  []string
	tail  []string
	total int
}

func newStderrCapture() *StderrCapture {
	return &StderrCapture{
		head: make([]string, 0, StderrHeadLines),
		tail: make([]string, 0, StderrTailLines),
	}
}

// Line records one stderr line.
func (c *StderrCapture) Line(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if len(c.head) < StderrHeadLines {
		c.head = append(c.head, line)
	}
	c.tail = append(c.tail, line)
	if overflow := len(c.tail) - StderrTailLines; overflow > 0 {
		c.tail = c.tail[overflow:]
	}
}

// Snapshot is the diagnostics view attached to session.ended_data.stderr.
type Snapshot struct {
	Head      []string `json:"head"`
	Tail      []string `json:"tail"`
	Truncated bool     `json:"truncated"`
	Total     int      `json:"total_lines"`
}

// Snapshot returns the current head/tail view. If total <= head+tail, the
// full content is presented in Head and Truncated is false.
func (c *StderrCapture) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.total <= StderrHeadLines+StderrTailLines {
		full := make([]string, len(c.head))
		copy(full, c.head)
		// The lines after the head portion are the last total-len(head)
		// lines, and tail still holds all of them in this regime.
		rest := c.total - len(full)
		full = append(full, c.tail[len(c.tail)-rest:]...)
		return Snapshot{Head: full, Tail: nil, Truncated: false, Total: c.total}
	}

	head := make([]string, len(c.head))
	copy(head, c.head)
	tail := make([]string, len(c.tail))
	copy(tail, c.tail)
	return Snapshot{Head: head, Tail: tail, Truncated: true, Total: c.total}
}
