package sync

import (
	"bytes"
	"context"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treechat/treechat/internal/config"
	"github.com/treechat/treechat/internal/identity"
	"github.com/treechat/treechat/internal/logging"
	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
	"github.com/treechat/treechat/internal/store/memstore"
)

var engineCfg = config.EngineConfig{MembershipRepair: true, UnreadRangeQueries: true}

func seedProfiles(t *testing.T, st *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Write(ctx, "newusers/alice", map[string]any{
		"newname": "Alice", "newemail": "alice@example.com",
	}))
	require.NoError(t, st.Write(ctx, "newusers/bob", map[string]any{
		"newname": "Bob", "newemail": "bob@example.com", "authUid": "uid-bob",
	}))
}

func startEngine(t *testing.T, st store.Store, self models.Identity) *Engine {
	t.Helper()
	provider := identity.NewStaticProvider()
	e := NewEngine(st, provider, engineCfg, nil)
	e.Start()
	t.Cleanup(e.Close)
	provider.SignIn(self)
	return e
}

func alice() models.Identity {
	return models.Identity{ID: "alice", Name: "Alice", Email: "alice@example.com"}
}

func bob() models.Identity {
	return models.Identity{ID: "bob", AuthUID: "uid-bob", Name: "Bob", Email: "bob@example.com"}
}

func TestEngineSelectsOldestChannelOnSignIn(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "channels/c2", map[string]any{
		"name": "random", "createdAt": int64(200),
	}))
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))

	e := startEngine(t, st, alice())

	require.Eventually(t, func() bool { return len(e.Channels()) == 2 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, "c1", e.ActiveChannelID())
	require.Equal(t, "general", e.Channels()[0].Name)
}

func TestEngineRepairsMembershipOnSignIn(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
		"members": map[string]any{"uid-bob": true},
	}))

	e := startEngine(t, st, alice())

	require.Eventually(t, func() bool { return e.RepairState() == RepairDone },
		time.Second, 5*time.Millisecond)

	// alice was missing and gets backfilled; bob is already present under
	// his auth uid and must not be duplicated under his record key.
	got, err := st.Read(ctx, "channels/c1/members/alice")
	require.NoError(t, err)
	require.Equal(t, true, got)
	dup, err := st.Read(ctx, "channels/c1/members/bob")
	require.NoError(t, err)
	require.Nil(t, dup)
}

func TestEngineRepairKeepsPopulationsSeparate(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "guestUsers/guest-9", map[string]any{"name": "Visitor"}))
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))
	require.NoError(t, st.Write(ctx, "guestChannels/public/g1", map[string]any{
		"name": "lobby", "createdAt": int64(100),
	}))

	// A registered session backfills registered identities only.
	e := startEngine(t, st, alice())
	require.Eventually(t, func() bool { return e.RepairState() == RepairDone },
		time.Second, 5*time.Millisecond)
	for _, member := range []string{"alice", "bob"} {
		got, err := st.Read(ctx, "channels/c1/members/"+member)
		require.NoError(t, err)
		require.Equal(t, true, got, member)
	}
	guest, err := st.Read(ctx, "channels/c1/members/guest-9")
	require.NoError(t, err)
	require.Nil(t, guest)

	// A guest session backfills guests onto the guest root only.
	g := startEngine(t, st, models.Identity{ID: "guest-1", Name: "Visitor", IsGuest: true})
	require.Eventually(t, func() bool { return g.RepairState() == RepairDone },
		time.Second, 5*time.Millisecond)
	got, err := st.Read(ctx, "guestChannels/public/g1/members/guest-9")
	require.NoError(t, err)
	require.Equal(t, true, got)
	reg, err := st.Read(ctx, "guestChannels/public/g1/members/alice")
	require.NoError(t, err)
	require.Nil(t, reg)
}

// gatedStore blocks atomic writes while gating is on, holding a repair pass
// in flight so tests can interleave snapshots with it.
type gatedStore struct {
	*memstore.Store
	gate   chan struct{}
	gating atomic.Bool
}

func (g *gatedStore) AtomicWrite(ctx context.Context, values map[string]store.Value) error {
	if g.gating.Load() {
		<-g.gate
	}
	return g.Store.AtomicWrite(ctx, values)
}

func TestEngineRepairPicksUpChannelsAppearingMidPass(t *testing.T) {
	base := memstore.New()
	defer base.Close()
	ctx := context.Background()
	seedProfiles(t, base)
	require.NoError(t, base.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))

	st := &gatedStore{Store: base, gate: make(chan struct{})}
	st.gating.Store(true)

	e := startEngine(t, st, alice())
	require.Eventually(t, func() bool { return e.RepairState() == RepairRunning },
		time.Second, 5*time.Millisecond)

	// A channel appears while the first pass is blocked mid-write. The kick
	// it produces must queue, not drop.
	require.NoError(t, base.Write(ctx, "channels/c2", map[string]any{
		"name": "late", "createdAt": int64(200),
	}))
	require.Eventually(t, func() bool { return len(e.Channels()) == 2 },
		time.Second, 5*time.Millisecond)

	st.gating.Store(false)
	close(st.gate)

	require.Eventually(t, func() bool {
		got, err := base.Read(ctx, "channels/c2/members/alice")
		return err == nil && got == true
	}, time.Second, 5*time.Millisecond)
}

type syncBuffer struct {
	mu  gosync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEngineSignInLogRedactsEmail(t *testing.T) {
	out := &syncBuffer{}
	logging.Init(logging.Config{Level: "debug", Format: "json", Output: out})
	defer logging.Init(logging.DefaultConfig())

	st := memstore.New()
	defer st.Close()
	seedProfiles(t, st)
	startEngine(t, st, alice())

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "identity ready")
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, out.String(), "a***@example.com")
	require.NotContains(t, out.String(), "alice@example.com")
}

func TestEngineRepairDisabledOnDeniedWrite(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))
	st.DenyWrites("channels/c1/members")

	e := startEngine(t, st, alice())

	require.Eventually(t, func() bool { return e.RepairState() == RepairDisabled },
		time.Second, 5*time.Millisecond)
	got, err := st.Read(ctx, "channels/c1/members")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEngineCreateChannelSelectsAndEnrolls(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "channels/c0", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))

	e := startEngine(t, st, alice())
	require.Eventually(t, func() bool { return e.RepairState() == RepairDone },
		time.Second, 5*time.Millisecond)

	id, err := e.CreateChannel(ctx, "  My New Channel ", "planning")
	require.NoError(t, err)
	require.Equal(t, id, e.ActiveChannelID())

	name, err := st.Read(ctx, "channels/"+id+"/name")
	require.NoError(t, err)
	require.Equal(t, "my-new-channel", name)
	desc, err := st.Read(ctx, "channels/"+id+"/description")
	require.NoError(t, err)
	require.Equal(t, "planning", desc)

	// Creation enrolls only the creator; the repair pass triggered by the
	// new snapshot backfills everyone else.
	created, err := st.Read(ctx, "channels/"+id+"/members")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"alice": true}, created)
	require.Eventually(t, func() bool {
		got, err := st.Read(ctx, "channels/"+id+"/members/bob")
		return err == nil && got == true
	}, time.Second, 5*time.Millisecond)

	// The snapshot echo keeps the explicit selection.
	require.Eventually(t, func() bool { return len(e.Channels()) == 2 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, id, e.ActiveChannelID())

	_, err = e.CreateChannel(ctx, "  #  ", "")
	require.ErrorIs(t, err, models.ErrInvalidChannelName)
}

func TestEngineSendChannelMessage(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))

	e := startEngine(t, st, alice())
	require.Eventually(t, func() bool { return e.ActiveChannelID() == "c1" },
		time.Second, 5*time.Millisecond)

	require.NoError(t, e.SendChannelMessage(ctx, "  hello world  "))
	require.Eventually(t, func() bool { return len(e.ChannelMessages()) == 1 },
		time.Second, 5*time.Millisecond)
	msg := e.ChannelMessages()[0]
	require.Equal(t, "hello world", msg.Text)
	require.Equal(t, "Alice", msg.Author.Name)

	// Blank text is a silent no-op.
	require.NoError(t, e.SendChannelMessage(ctx, "   "))
	time.Sleep(20 * time.Millisecond)
	require.Len(t, e.ChannelMessages(), 1)
}

func TestEngineDirectMessageFlow(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)

	ae := startEngine(t, st, alice())
	be := startEngine(t, st, bob())

	require.NoError(t, ae.StartDM(ctx, "bob"))
	require.Equal(t, "bob", ae.ActivePeerID())

	// Opening refreshes display metadata on both sides but is not activity:
	// nobody's lastMessageAt moves.
	got, err := st.Read(ctx, "dmThreads/bob/alice/otherName")
	require.NoError(t, err)
	require.Equal(t, "Alice", got)
	lm, err := st.Read(ctx, "dmThreads/alice/bob/lastMessageAt")
	require.NoError(t, err)
	require.Nil(t, lm)

	require.NoError(t, ae.SendDM(ctx, "hi bob"))

	// Both thread records bump together.
	require.Eventually(t, func() bool {
		a, _ := st.Read(ctx, "dmThreads/alice/bob/lastMessageAt")
		b, _ := st.Read(ctx, "dmThreads/bob/alice/lastMessageAt")
		return a != nil && a == b
	}, time.Second, 5*time.Millisecond)

	// bob's thread index and unread badge catch up.
	require.Eventually(t, func() bool {
		threads := be.Threads()
		return len(threads) == 1 && threads[0].PeerID == "alice" && be.UnreadCount("alice") == 1
	}, time.Second, 5*time.Millisecond)

	// alice's own message never counts against her.
	require.Eventually(t, func() bool { return len(ae.Threads()) == 1 },
		time.Second, 5*time.Millisecond)
	require.Zero(t, ae.UnreadCount("bob"))

	require.NoError(t, be.MarkRead(ctx, "alice"))
	require.Zero(t, be.UnreadCount("alice"))

	require.Eventually(t, func() bool { return len(ae.DMMessages()) == 1 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, "hi bob", ae.DMMessages()[0].Text)

	ae.CloseDM()
	require.Empty(t, ae.ActivePeerID())
	require.ErrorIs(t, ae.SendDM(ctx, "into the void"), ErrNoActivePeer)
}

func TestEngineRejectsSelfConversation(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	seedProfiles(t, st)

	e := startEngine(t, st, alice())
	require.ErrorIs(t, e.StartDM(context.Background(), "alice"), ErrSelfConversation)
}

func TestEngineGuestUsesGuestRootAndCannotDM(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.Write(ctx, "guestChannels/public/g1", map[string]any{
		"name": "lobby", "createdAt": int64(100),
	}))
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "members-only", "createdAt": int64(100),
	}))

	e := startEngine(t, st, models.Identity{ID: "guest-1", Name: "Visitor", IsGuest: true})

	require.Eventually(t, func() bool { return len(e.Channels()) == 1 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, "g1", e.ActiveChannelID())
	require.Equal(t, "lobby", e.Channels()[0].Name)

	require.ErrorIs(t, e.StartDM(ctx, "alice"), ErrGuestRestricted)
	require.ErrorIs(t, e.SendDM(ctx, "hi"), ErrGuestRestricted)
}

func TestEngineSignOutTearsEverythingDown(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))

	provider := identity.NewStaticProvider()
	e := NewEngine(st, provider, engineCfg, nil)
	e.Start()
	defer e.Close()

	require.Empty(t, e.Channels())
	require.ErrorIs(t, e.SendChannelMessage(ctx, "too early"), ErrNotAuthenticated)

	provider.SignIn(alice())
	require.Eventually(t, func() bool { return e.ActiveChannelID() == "c1" },
		time.Second, 5*time.Millisecond)

	provider.SignOut()
	require.Empty(t, e.Channels())
	require.Empty(t, e.ActiveChannelID())
	require.Empty(t, e.Threads())
	require.Empty(t, e.ChannelMessages())
	require.ErrorIs(t, e.SetActiveChannel("c1"), ErrNotAuthenticated)
}

func TestEngineSetActiveChannelValidatesPresence(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	seedProfiles(t, st)
	require.NoError(t, st.Write(ctx, "channels/c1", map[string]any{
		"name": "general", "createdAt": int64(100),
	}))
	require.NoError(t, st.Write(ctx, "channels/c2", map[string]any{
		"name": "random", "createdAt": int64(200),
	}))

	e := startEngine(t, st, alice())
	require.Eventually(t, func() bool { return len(e.Channels()) == 2 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, e.SetActiveChannel("c2"))
	require.Equal(t, "c2", e.ActiveChannelID())
	require.ErrorIs(t, e.SetActiveChannel("nope"), ErrNoActiveChannel)
	require.Equal(t, "c2", e.ActiveChannelID())

	// The active channel vanishing falls back to the first remaining one.
	require.NoError(t, st.Write(ctx, "channels/c2", nil))
	require.Eventually(t, func() bool { return e.ActiveChannelID() == "c1" },
		time.Second, 5*time.Millisecond)
}
