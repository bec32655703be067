package sync

import (
	"sync"

	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
)

// MessageDecoder maps one raw record to the display shape. Channel and DM
// records differ in where the author lives; the session stays agnostic.
type MessageDecoder func(id string, value store.Value) (models.Message, bool)

// ChannelMessageDecoder decodes channel message records.
func ChannelMessageDecoder(id string, value store.Value) (models.Message, bool) {
	return models.ChannelMessageFromValue(id, value)
}

// DMMessageDecoder decodes direct message records to the display shape.
func DMMessageDecoder(id string, value store.Value) (models.Message, bool) {
	dm, ok := models.DMMessageFromValue(id, value)
	if !ok {
		return models.Message{}, false
	}
	return dm.Display(), true
}

// ConversationSession owns one conversation's message subscription and the
// time-ordered list derived from it. The owner calls Close before opening a
// different conversation on the same logical slot; Close is idempotent and a
// closed session drops any in-flight snapshot.
type ConversationSession struct {
	path   string
	decode MessageDecoder

	mu       sync.Mutex
	messages []models.Message
	closed   bool
	cancel   store.CancelFunc
	onUpdate func()
}

// OpenConversation starts with an empty list, then subscribes to path. The
// list is rebuilt from every snapshot and sorted non-decreasing by createdAt.
// onUpdate, if set, fires after each rebuild.
func OpenConversation(st store.Store, path string, decode MessageDecoder, onUpdate func()) *ConversationSession {
	s := &ConversationSession{
		path:     path,
		decode:   decode,
		onUpdate: onUpdate,
	}
	s.cancel = st.Subscribe(path, s.apply, s.degrade)
	return s
}

func (s *ConversationSession) apply(value store.Value) {
	raw, _ := value.(map[string]any)
	messages := make([]models.Message, 0, len(raw))
	for id, record := range raw {
		if msg, ok := s.decode(id, record); ok {
			messages = append(messages, msg)
		}
	}
	models.SortMessages(messages)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.messages = messages
	notify := s.onUpdate
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// degrade handles subscription errors by emptying the view.
func (s *ConversationSession) degrade(error) {
	s.apply(nil)
}

// Path returns the subscribed conversation path.
func (s *ConversationSession) Path() string {
	return s.path
}

// Messages returns a copy of the ordered message list.
func (s *ConversationSession) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Close cancels the subscription and clears the list. Idempotent.
func (s *ConversationSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.messages = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
