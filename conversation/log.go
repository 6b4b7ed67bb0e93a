package conversation

import (
	"time"

	"node.town/hark/etc"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tags the lifecycle of a user entry.
type Status string

const (
	StatusSpeaking   Status = "speaking"
	StatusProcessing Status = "processing"
	StatusFinal      Status = "final"
)

type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"isFinal"`
	Status    Status    `json:"status,omitempty"`
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	Text    *string
	Status  *Status
	IsFinal *bool
}

func Text(s string) *string { return &s }

func StatusOf(s Status) *Status { return &s }

func Final() *bool {
	b := true
	return &b
}

// Log is the ordered conversation. It is not safe for concurrent use;
// the owning session serializes access.
type Log struct {
	entries []Entry
	now     func() time.Time
	newID   func() string
}

func NewLog() *Log {
	return &Log{
		now:   time.Now,
		newID: etc.NewFreshID,
	}
}

// Append adds e to the end of the log. A missing ID or timestamp is
// filled in; the stored entry is returned. An unfinished assistant entry
// at the tail is finalized first, since only the tail may be unfinished.
func (l *Log) Append(e Entry) Entry {
	if n := len(l.entries); n > 0 {
		if tail := &l.entries[n-1]; tail.Role == RoleAssistant && !tail.IsFinal {
			tail.IsFinal = true
		}
	}
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	l.entries = append(l.entries, e)
	return e
}

// Update merges p into the entry with the given id. IsFinal only ever
// moves from false to true.
func (l *Log) Update(id string, p Patch) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	e := &l.entries[i]
	if p.Text != nil {
		e.Text = *p.Text
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.IsFinal != nil && *p.IsFinal {
		e.IsFinal = true
	}
	return true
}

// AppendDelta extends the trailing non-final assistant entry, or starts
// a new one when the tail is anything else.
func (l *Log) AppendDelta(delta string) Entry {
	if n := len(l.entries); n > 0 {
		tail := &l.entries[n-1]
		if tail.Role == RoleAssistant && !tail.IsFinal {
			tail.Text += delta
			return *tail
		}
	}
	return l.Append(Entry{Role: RoleAssistant, Text: delta})
}

func (l *Log) MarkTailFinal() bool {
	n := len(l.entries)
	if n == 0 {
		return false
	}
	l.entries[n-1].IsFinal = true
	return true
}

func (l *Log) Get(id string) (Entry, bool) {
	i := l.index(id)
	if i < 0 {
		return Entry{}, false
	}
	return l.entries[i], true
}

func (l *Log) Tail() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns a copy in render order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	return len(l.entries)
}

func (l *Log) Reset() {
	l.entries = nil
}

func (l *Log) index(id string) int {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			return i
		}
	}
	return -1
}
