package interaction

import (
	"sync"
	"time"
)

// Notice is one operator-facing status line.
type Notice struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Notices keeps the most recent status lines.
type Notices struct {
	mu    sync.Mutex
	lines []Notice
	max   int
}

// NewNotices creates a log holding at most max lines.
func NewNotices(max int) *Notices {
	if max <= 0 {
		max = 64
	}
	return &Notices{max: max}
}

// Push appends a status line, dropping the oldest when full.
func (n *Notices) Push(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lines = append(n.lines, Notice{Time: time.Now(), Message: msg})
	if len(n.lines) > n.max {
		n.lines = append([]Notice(nil), n.lines[len(n.lines)-n.max:]...)
	}
}

// Recent returns a copy of the stored lines, oldest first.
func (n *Notices) Recent() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.lines...)
}

// Latest returns the newest message or "".
func (n *Notices) Latest() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.lines) == 0 {
		return ""
	}
	return n.lines[len(n.lines)-1].Message
}
