package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treechat/treechat/internal/store/memstore"
)

func TestConversationOrdersMessagesBySenderClock(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()

	// Arrival order deliberately disagrees with sender timestamps.
	require.NoError(t, st.Write(ctx, "channelMessages/channels/c1/m2", map[string]any{
		"text": "second", "createdAt": int64(200),
		"user": map[string]any{"name": "alice"},
	}))
	require.NoError(t, st.Write(ctx, "channelMessages/channels/c1/m1", map[string]any{
		"text": "first", "createdAt": int64(100),
		"user": map[string]any{"name": "bob"},
	}))

	updated := make(chan struct{}, 16)
	s := OpenConversation(st, "channelMessages/channels/c1", ChannelMessageDecoder, func() {
		updated <- struct{}{}
	})
	defer s.Close()

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 },
		time.Second, 5*time.Millisecond)
	msgs := s.Messages()
	require.Equal(t, "first", msgs[0].Text)
	require.Equal(t, "second", msgs[1].Text)

	// A late message with an older sender clock files into place.
	require.NoError(t, st.Write(ctx, "channelMessages/channels/c1/m3", map[string]any{
		"text": "middle", "createdAt": int64(150),
		"user": map[string]any{"name": "carol"},
	}))
	require.Eventually(t, func() bool { return len(s.Messages()) == 3 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"first", "middle", "second"},
		[]string{s.Messages()[0].Text, s.Messages()[1].Text, s.Messages()[2].Text})
}

func TestConversationStartsEmptyBeforeFirstSnapshot(t *testing.T) {
	st := memstore.New()
	defer st.Close()

	s := OpenConversation(st, "directMessages/a__b", DMMessageDecoder, nil)
	defer s.Close()
	require.Empty(t, s.Messages())
}

func TestConversationCloseDropsInFlightSnapshots(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()

	s := OpenConversation(st, "directMessages/a__b", DMMessageDecoder, nil)
	s.Close()
	s.Close() // idempotent

	require.NoError(t, st.Write(ctx, "directMessages/a__b/m1", map[string]any{
		"text": "late", "createdAt": int64(1),
		"from": map[string]any{"id": "a"},
	}))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, s.Messages())
}

func TestConversationSkipsMalformedRecords(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.Write(ctx, "channelMessages/channels/c1/good", map[string]any{
		"text": "hello", "createdAt": int64(5),
	}))
	require.NoError(t, st.Write(ctx, "channelMessages/channels/c1/bad", "not a record"))

	s := OpenConversation(st, "channelMessages/channels/c1", ChannelMessageDecoder, nil)
	defer s.Close()

	require.Eventually(t, func() bool { return len(s.Messages()) == 1 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, "hello", s.Messages()[0].Text)
}
