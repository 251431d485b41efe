package chatclient

import (
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/club-chat/pkg/idgen"
)

// LocalIDPrefix marks placeholder ids that never reached the server.
const LocalIDPrefix = "local-"

// State is where a timeline entry is in its send lifecycle.
type State int

const (
	StatePending State = iota
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entry is one line of a conversation view. LocalID is set for entries
// created by this client; Err is set when State is StateFailed.
type Entry struct {
	State   State
	LocalID string
	Message Message
	Err     error
}

// Timeline is the ordered local copy of one conversation. Positions follow
// arrival order; rows are merged by id.
type Timeline struct {
	mu             sync.Mutex
	conversationID string
	self           SenderClass
	ids            idgen.Generator
	entries        []Entry
	now            func() time.Time
}

func NewTimeline(conversationID string, self SenderClass) *Timeline {
	ids, _ := idgen.NewNanoIDGenerator(idgen.DefaultNanoIDSize, idgen.DefaultNanoIDAlphabet)
	return &Timeline{
		conversationID: conversationID,
		self:           self,
		ids:            ids,
		now:            time.Now,
	}
}

// Reset replaces the timeline with a freshly loaded page, keeping unconfirmed
// local entries at the end.
func (t *Timeline) Reset(messages []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var local []Entry
	for _, e := range t.entries {
		if e.State != StateConfirmed {
			local = append(local, e)
		}
	}

	t.entries = t.entries[:0]
	for _, m := range messages {
		if t.indexOfID(m.ID) < 0 {
			t.entries = append(t.entries, Entry{State: StateConfirmed, Message: m})
		}
	}
	t.entries = append(t.entries, local...)
}

// AddPending appends a placeholder for text the user just submitted.
func (t *Timeline) AddPending(content string) (Entry, error) {
	id, err := t.ids.Generate()
	if err != nil {
		return Entry{}, err
	}
	localID := LocalIDPrefix + id

	e := Entry{
		State:   StatePending,
		LocalID: localID,
		Message: Message{
			ID:             localID,
			ConversationID: t.conversationID,
			SenderClass:    t.self,
			Content:        content,
			CreatedAt:      t.now().UTC(),
		},
	}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e, nil
}

// ApplyInserted merges a pushed new row. It reports true when the row came
// from the counterpart and was new, which is when a mark-read is due.
func (t *Timeline) ApplyInserted(m Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.SenderClass == t.self {
		t.confirm("", m)
		return false
	}
	if t.indexOfID(m.ID) >= 0 {
		return false
	}
	t.entries = append(t.entries, Entry{State: StateConfirmed, Message: m})
	return true
}

// ApplyUpdated replaces the row with the same id. A row already seen as
// read stays read. Unknown ids are ignored.
func (t *Timeline) ApplyUpdated(m Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOfID(m.ID)
	if i < 0 {
		return false
	}
	if t.entries[i].Message.Read {
		m.Read = true
	}
	t.entries[i].Message = m
	return true
}

// ResolveSend records the outcome of sending the placeholder localID.
func (t *Timeline) ResolveSend(localID string, m *Message, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		if i := t.indexOfLocal(localID); i >= 0 && t.entries[i].State == StatePending {
			t.entries[i].State = StateFailed
			t.entries[i].Err = err
		}
		return
	}
	if m != nil {
		t.confirm(localID, *m)
	}
}

// Retry moves a failed entry back to pending and returns its content.
func (t *Timeline) Retry(localID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOfLocal(localID)
	if i < 0 || t.entries[i].State != StateFailed {
		return "", false
	}
	t.entries[i].State = StatePending
	t.entries[i].Err = nil
	return t.entries[i].Message.Content, true
}

// PrependHistory puts an older chronological page in front of the timeline.
func (t *Timeline) PrependHistory(older []Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := make([]Entry, 0, len(older))
	seen := make(map[string]struct{}, len(older))
	for _, m := range older {
		if _, dup := seen[m.ID]; dup || t.indexOfID(m.ID) >= 0 {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, Entry{State: StateConfirmed, Message: m})
	}
	t.entries = append(fresh, t.entries...)
	return len(fresh)
}

func (t *Timeline) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// confirm places a server row for one of our own messages. The row replaces,
// in order of preference, the placeholder it was sent from, the first
// unconfirmed placeholder with the same content, or nothing (append). A row
// already present is left where it is.
func (t *Timeline) confirm(localID string, m Message) {
	if i := t.indexOfID(m.ID); i >= 0 {
		if t.entries[i].Message.Read {
			m.Read = true
		}
		t.entries[i].Message = m
		return
	}

	i := -1
	if localID != "" {
		if j := t.indexOfLocal(localID); j >= 0 && t.entries[j].State != StateConfirmed {
			i = j
		}
	}
	if i < 0 {
		i = t.indexOfPlaceholder(m.Content)
	}

	if i < 0 {
		t.entries = append(t.entries, Entry{State: StateConfirmed, Message: m})
		return
	}
	t.entries[i] = Entry{State: StateConfirmed, LocalID: t.entries[i].LocalID, Message: m}
}

func (t *Timeline) indexOfID(id string) int {
	for i := range t.entries {
		if t.entries[i].State == StateConfirmed && t.entries[i].Message.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexOfLocal(localID string) int {
	if localID == "" {
		return -1
	}
	for i := range t.entries {
		if t.entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexOfPlaceholder(content string) int {
	for i := range t.entries {
		if t.entries[i].State != StateConfirmed && t.entries[i].Message.Content == content {
			return i
		}
	}
	return -1
}
