package models

import "sort"

// Display defaults applied when optional record fields are absent, so views
// never render empty values.
const (
	DefaultDisplayName = "Unknown"
	DefaultAvatar      = "/avatar1.png"
	DefaultChannelName = "unnamed"
)

// Channel is a named many-member conversation. Members is a set keyed by
// identity key; values are always true. Keys may be profile record keys or raw
// auth uids (two historical schemes).
type Channel struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      int64           `json:"createdAt"`
	CreatedByEmail string          `json:"createdByEmail,omitempty"`
	Public         bool            `json:"public"`
	Members        map[string]bool `json:"members,omitempty"`
}

// HasMember reports whether the raw key is present in the member set.
func (c Channel) HasMember(key string) bool {
	return c.Members[key]
}

// Message is the display shape for a channel or DM message. CreatedAt is a
// sender-assigned wall-clock timestamp in milliseconds since epoch.
type Message struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	CreatedAt int64            `json:"createdAt"`
	Author    IdentitySnapshot `json:"author"`
}

// ChannelFromValue decodes one channel record from a raw store value,
// defaulting every optional field.
func ChannelFromValue(id string, v any) Channel {
	m := asMap(v)
	name := stringField(m, "name")
	if name == "" {
		name = DefaultChannelName
	}
	ch := Channel{
		ID:             id,
		Name:           name,
		Description:    stringField(m, "description"),
		CreatedAt:      intField(m, "createdAt"),
		CreatedByEmail: stringField(m, "createdByEmail"),
		Public:         boolField(m, "public"),
		Members:        map[string]bool{},
	}
	for key, val := range asMap(m["members"]) {
		if b, ok := val.(bool); ok && b {
			ch.Members[key] = true
		}
	}
	return ch
}

// ChannelsFromValue decodes a channel subtree snapshot into a list sorted
// ascending by createdAt (missing createdAt sorts first), id as tie-break.
func ChannelsFromValue(v any) []Channel {
	m := asMap(v)
	channels := make([]Channel, 0, len(m))
	for id, raw := range m {
		channels = append(channels, ChannelFromValue(id, raw))
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt != channels[j].CreatedAt {
			return channels[i].CreatedAt < channels[j].CreatedAt
		}
		return channels[i].ID < channels[j].ID
	})
	return channels
}

// ChannelMessageFromValue decodes one channel message record. The author lives
// under the "user" field; absent author fields fall back to display defaults.
func ChannelMessageFromValue(id string, v any) (Message, bool) {
	m := asMap(v)
	if m == nil {
		return Message{}, false
	}
	user := asMap(m["user"])
	msg := Message{
		ID:        id,
		Text:      stringField(m, "text"),
		CreatedAt: intField(m, "createdAt"),
		Author: IdentitySnapshot{
			Name:   stringField(user, "name"),
			Email:  stringField(user, "email"),
			Avatar: stringField(user, "avatar"),
		},
	}
	if msg.Author.Name == "" {
		msg.Author.Name = DefaultDisplayName
	}
	if msg.Author.Avatar == "" {
		msg.Author.Avatar = DefaultAvatar
	}
	return msg, true
}

// SortMessages orders messages non-decreasing by createdAt, breaking ties by
// the store-assigned id so renders are deterministic under clock skew.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt != messages[j].CreatedAt {
			return messages[i].CreatedAt < messages[j].CreatedAt
		}
		return messages[i].ID < messages[j].ID
	})
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// intField accepts the numeric shapes JSON decoding produces for millisecond
// timestamps.
func intField(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
