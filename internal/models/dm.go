package models

import (
	"sort"
	"strings"
)

// ConversationIDSeparator joins the two participant ids of a DM conversation.
const ConversationIDSeparator = "__"

// ConversationID derives the canonical id for a two-party conversation. It is
// pure and commutative: both participants compute the same id without any
// store round trip.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ConversationIDSeparator + b
}

// DMThread is one direction of a DM conversation as seen by its owner.
// LastReadAt is private to the owner; the peer's record holds its own.
type DMThread struct {
	PeerID         string `json:"peerId"`
	ConversationID string `json:"conversationId"`
	PeerName       string `json:"peerName"`
	PeerAvatar     string `json:"peerAvatar,omitempty"`
	LastMessageAt  int64  `json:"lastMessageAt"`
	LastReadAt     int64  `json:"lastReadAt"`
}

// DMMessage is a direct message with denormalized sender and recipient
// snapshots.
type DMMessage struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	CreatedAt int64            `json:"createdAt"`
	From      IdentitySnapshot `json:"from"`
	To        IdentitySnapshot `json:"to"`
}

// Display converts a DM message to the common display shape, authored by its
// sender.
func (m DMMessage) Display() Message {
	author := m.From
	if author.Name == "" {
		author.Name = DefaultDisplayName
	}
	if author.Avatar == "" {
		author.Avatar = DefaultAvatar
	}
	return Message{ID: m.ID, Text: m.Text, CreatedAt: m.CreatedAt, Author: author}
}

// DMThreadsFromValue decodes the owner's thread metadata subtree. Entries for
// the owner itself or malformed keys are dropped; the result is sorted
// descending by lastMessageAt, peer id as tie-break.
func DMThreadsFromValue(ownerID string, v any) []DMThread {
	m := asMap(v)
	threads := make([]DMThread, 0, len(m))
	for peerID, raw := range m {
		peerID = strings.TrimSpace(peerID)
		if peerID == "" || peerID == ownerID || peerID == "undefined" {
			continue
		}
		meta := asMap(raw)
		thread := DMThread{
			PeerID:         peerID,
			ConversationID: ConversationID(ownerID, peerID),
			PeerName:       stringField(meta, "otherName"),
			PeerAvatar:     stringField(meta, "otherAvatar"),
			LastMessageAt:  intField(meta, "lastMessageAt"),
			LastReadAt:     intField(meta, "lastReadAt"),
		}
		if thread.PeerName == "" {
			thread.PeerName = DefaultDisplayName
		}
		if thread.PeerAvatar == "" {
			thread.PeerAvatar = DefaultAvatar
		}
		threads = append(threads, thread)
	}
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].LastMessageAt != threads[j].LastMessageAt {
			return threads[i].LastMessageAt > threads[j].LastMessageAt
		}
		return threads[i].PeerID < threads[j].PeerID
	})
	return threads
}

// DMMessageFromValue decodes one direct message record.
func DMMessageFromValue(id string, v any) (DMMessage, bool) {
	m := asMap(v)
	if m == nil {
		return DMMessage{}, false
	}
	return DMMessage{
		ID:        id,
		Text:      stringField(m, "text"),
		CreatedAt: intField(m, "createdAt"),
		From:      snapshotField(m, "from"),
		To:        snapshotField(m, "to"),
	}, true
}

// DMMessagesFromValue decodes a conversation subtree snapshot, unsorted.
func DMMessagesFromValue(v any) []DMMessage {
	m := asMap(v)
	messages := make([]DMMessage, 0, len(m))
	for id, raw := range m {
		if msg, ok := DMMessageFromValue(id, raw); ok {
			messages = append(messages, msg)
		}
	}
	return messages
}

func snapshotField(m map[string]any, key string) IdentitySnapshot {
	s := asMap(m[key])
	return IdentitySnapshot{
		ID:     stringField(s, "id"),
		Name:   stringField(s, "name"),
		Email:  stringField(s, "email"),
		Avatar: stringField(s, "avatar"),
	}
}
