package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeChannelName(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Marketing", "marketing"},
		{"  Big   Launch  ", "big-launch"},
		{"#general", "general"},
		{"Dev Ops #2", "dev-ops-2"},
	}
	for _, tc := range cases {
		got, err := NormalizeChannelName(tc.input)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := NormalizeChannelName("   ")
	require.ErrorIs(t, err, ErrInvalidChannelName)
	_, err = NormalizeChannelName("##")
	require.ErrorIs(t, err, ErrInvalidChannelName)
}

func TestNormalizeMessageText(t *testing.T) {
	got, err := NormalizeMessageText("  hi there ")
	require.NoError(t, err)
	require.Equal(t, "hi there", got)

	_, err = NormalizeMessageText(" \n\t ")
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestConversationIDCommutative(t *testing.T) {
	require.Equal(t, "u1__u2", ConversationID("u1", "u2"))
	require.Equal(t, "u1__u2", ConversationID("u2", "u1"))
	require.Equal(t, ConversationID("a", "b"), ConversationID("b", "a"))
}

func TestChannelsFromValueDefaultsAndOrder(t *testing.T) {
	raw := map[string]any{
		"c2": map[string]any{"name": "beta", "createdAt": float64(200)},
		"c1": map[string]any{
			"name":      "alpha",
			"createdAt": float64(100),
			"members":   map[string]any{"u1": true, "u2": false},
		},
		"c0": map[string]any{}, // missing createdAt sorts first
	}

	channels := ChannelsFromValue(raw)
	require.Len(t, channels, 3)
	require.Equal(t, "c0", channels[0].ID)
	require.Equal(t, DefaultChannelName, channels[0].Name)
	require.Equal(t, "c1", channels[1].ID)
	require.True(t, channels[1].HasMember("u1"))
	require.False(t, channels[1].HasMember("u2"))
	require.Equal(t, "c2", channels[2].ID)
}

func TestChannelMessageFromValueDefaults(t *testing.T) {
	msg, ok := ChannelMessageFromValue("m1", map[string]any{"text": "hello"})
	require.True(t, ok)
	require.Equal(t, DefaultDisplayName, msg.Author.Name)
	require.Equal(t, DefaultAvatar, msg.Author.Avatar)
	require.Zero(t, msg.CreatedAt)

	_, ok = ChannelMessageFromValue("m2", "not a record")
	require.False(t, ok)
}

func TestDMThreadsFromValueFiltersAndSorts(t *testing.T) {
	raw := map[string]any{
		"u2":        map[string]any{"otherName": "Bob", "lastMessageAt": float64(50)},
		"u3":        map[string]any{"lastMessageAt": float64(90)},
		"u1":        map[string]any{"otherName": "self entry"},
		"undefined": map[string]any{"otherName": "broken"},
	}

	threads := DMThreadsFromValue("u1", raw)
	require.Len(t, threads, 2)
	require.Equal(t, "u3", threads[0].PeerID)
	require.Equal(t, DefaultDisplayName, threads[0].PeerName)
	require.Equal(t, "u2", threads[1].PeerID)
	require.Equal(t, "u1__u2", threads[1].ConversationID)
}

func TestSortMessagesTieBreaksByID(t *testing.T) {
	messages := []Message{
		{ID: "b", CreatedAt: 100},
		{ID: "a", CreatedAt: 100},
		{ID: "c", CreatedAt: 50},
	}
	SortMessages(messages)
	require.Equal(t, []string{"c", "a", "b"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})
}
