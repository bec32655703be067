package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/treechat/treechat/internal/config"
	"github.com/treechat/treechat/internal/identity"
	"github.com/treechat/treechat/internal/logging"
	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
)

// Subscription slot names, one per live view.
const (
	slotChannels      = "channels"
	slotProfiles      = "profiles"
	slotGuestProfiles = "guest-profiles"
	slotThreads       = "threads"
)

// Engine is the conversation synchronization engine. It waits for the auth
// provider, mirrors the channel directory, the identity directory, the
// owner's DM thread index and per-thread unread counters, keeps at most one
// channel and one DM conversation session open, and exposes write operations
// for sending and thread management. All reads return copies; onUpdate fires
// after any view changes.
type Engine struct {
	store    store.Store
	provider identity.Provider
	cfg      config.EngineConfig
	logger   zerolog.Logger
	onUpdate func()

	cancelAuth store.CancelFunc

	mu         gosync.Mutex
	self       models.Identity
	base       string
	manager    *Manager
	directory  *ChannelDirectory
	repairer   *Repairer
	threads    *ThreadIndex
	unread     *UnreadCounters
	registered []models.Identity
	guests     []models.Identity
	index      *identity.Index
	channelSes *ConversationSession
	dmSes      *ConversationSession
	dmPeer     models.Identity
	repairKick chan struct{}
	repairStop chan struct{}

	now func() int64
}

// NewEngine creates an engine over st, fed by provider. onUpdate may be nil.
func NewEngine(st store.Store, provider identity.Provider, cfg config.EngineConfig, onUpdate func()) *Engine {
	return &Engine{
		store:    st,
		provider: provider,
		cfg:      cfg,
		logger:   logging.Component("engine"),
		onUpdate: onUpdate,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Start registers with the auth provider. No store subscription exists before
// the provider signals readiness; identity changes tear everything down and
// rebuild for the new principal.
func (e *Engine) Start() {
	e.cancelAuth = e.provider.OnAuthReady(e.onIdentity)
}

// Close tears down the auth registration and every subscription.
func (e *Engine) Close() {
	if e.cancelAuth != nil {
		e.cancelAuth()
		e.cancelAuth = nil
	}
	e.teardown()
}

func (e *Engine) onIdentity(id models.Identity) {
	e.teardown()
	if id.ID == "" {
		e.logger.Info().Msg("signed out")
		return
	}

	base := store.ChannelsRoot
	if id.IsGuest {
		base = store.GuestChannelsRoot
	}

	e.mu.Lock()
	e.self = id
	e.base = base
	e.manager = NewManager(e.store)
	e.directory = NewChannelDirectory()
	e.repairer = NewRepairer(e.store)
	e.threads = NewThreadIndex(id.ID)
	e.unread = NewUnreadCounters(e.store, id.ID, e.cfg.UnreadRangeQueries, e.onUpdate)
	e.index = identity.NewIndex(nil)
	e.repairKick = make(chan struct{}, 1)
	e.repairStop = make(chan struct{})
	manager := e.manager
	kick, stop := e.repairKick, e.repairStop
	e.mu.Unlock()

	go e.repairWorker(kick, stop)

	log := logging.WithIdentity(id.ID)
	log.Info().
		Bool("guest", id.IsGuest).
		Str("email", logging.RedactEmail(id.Email)).
		Msg("identity ready")

	manager.Set(slotChannels, base, base, e.onChannels)
	manager.Set(slotProfiles, store.ProfilesRoot, store.ProfilesRoot, e.onProfiles)
	manager.Set(slotGuestProfiles, store.GuestProfilesRoot, store.GuestProfilesRoot, e.onGuestProfiles)
	if !id.IsGuest {
		path := store.DMThreadsPath(id.ID)
		manager.Set(slotThreads, path, path, e.onThreads)
	}
}

func (e *Engine) teardown() {
	e.mu.Lock()
	manager := e.manager
	channelSes := e.channelSes
	dmSes := e.dmSes
	unread := e.unread
	stop := e.repairStop
	e.repairKick = nil
	e.repairStop = nil
	e.manager = nil
	e.directory = nil
	e.repairer = nil
	e.threads = nil
	e.unread = nil
	e.index = nil
	e.registered = nil
	e.guests = nil
	e.channelSes = nil
	e.dmSes = nil
	e.dmPeer = models.Identity{}
	e.self = models.Identity{}
	e.base = ""
	e.mu.Unlock()

	if channelSes != nil {
		channelSes.Close()
	}
	if dmSes != nil {
		dmSes.Close()
	}
	if unread != nil {
		unread.Close()
	}
	if manager != nil {
		manager.Reset()
	}
	if stop != nil {
		close(stop)
	}
}

func (e *Engine) onChannels(value store.Value) {
	e.mu.Lock()
	directory := e.directory
	e.mu.Unlock()
	if directory == nil {
		return
	}

	activeID := directory.Apply(value)
	e.followChannel(activeID)
	e.maybeRepair()
	e.notify()
}

func (e *Engine) onProfiles(value store.Value) {
	e.mu.Lock()
	if e.index == nil {
		e.mu.Unlock()
		return
	}
	e.registered = identity.FromDirectoryValue(value, false)
	e.rebuildIndexLocked()
	e.mu.Unlock()

	e.maybeRepair()
	e.notify()
}

func (e *Engine) onGuestProfiles(value store.Value) {
	e.mu.Lock()
	if e.index == nil {
		e.mu.Unlock()
		return
	}
	e.guests = identity.FromDirectoryValue(value, true)
	e.rebuildIndexLocked()
	e.mu.Unlock()

	e.maybeRepair()
	e.notify()
}

func (e *Engine) rebuildIndexLocked() {
	all := make([]models.Identity, 0, len(e.registered)+len(e.guests))
	all = append(all, e.registered...)
	all = append(all, e.guests...)
	e.index = identity.NewIndex(all)
}

func (e *Engine) onThreads(value store.Value) {
	e.mu.Lock()
	threads := e.threads
	unread := e.unread
	e.mu.Unlock()
	if threads == nil {
		return
	}

	list := threads.Apply(value)
	if unread != nil {
		unread.SyncThreads(list)
	}
	e.notify()
}

// maybeRepair requests a membership repair pass. Kicks go through a buffered
// channel drained by repairWorker, so a snapshot arriving while a pass is in
// flight queues exactly one follow-up pass instead of being dropped.
func (e *Engine) maybeRepair() {
	if !e.cfg.MembershipRepair {
		return
	}
	e.mu.Lock()
	kick := e.repairKick
	e.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

// repairWorker serializes repair passes off the snapshot goroutine, reading
// the channel list and identity population fresh at the start of each pass so
// a queued kick always sees the state that triggered it.
func (e *Engine) repairWorker(kick, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-kick:
		}

		e.mu.Lock()
		repairer := e.repairer
		directory := e.directory
		base := e.base
		population := e.repairPopulationLocked()
		e.mu.Unlock()
		if repairer == nil || directory == nil || len(population) == 0 {
			continue
		}
		channels := directory.Channels()
		if len(channels) == 0 {
			continue
		}
		repairer.Run(context.Background(), base, channels, identity.NewIndex(population))
	}
}

// repairPopulationLocked returns the identities eligible for membership on
// this session's channel root. The guest and registered populations never
// mix: only guests belong on the guest root and only registered identities on
// the main root.
func (e *Engine) repairPopulationLocked() []models.Identity {
	source := e.registered
	if e.self.IsGuest {
		source = e.guests
	}
	out := make([]models.Identity, len(source))
	copy(out, source)
	return out
}

// followChannel keeps the single channel conversation session pointed at the
// active channel, tearing the previous session down first.
func (e *Engine) followChannel(channelID string) {
	e.mu.Lock()
	base := e.base
	previous := e.channelSes
	if base == "" {
		e.mu.Unlock()
		return
	}
	if channelID == "" {
		e.channelSes = nil
		e.mu.Unlock()
		if previous != nil {
			previous.Close()
		}
		return
	}
	path := store.ChannelMessagesPath(base, channelID)
	if previous != nil && previous.Path() == path {
		e.mu.Unlock()
		return
	}
	e.channelSes = OpenConversation(e.store, path, ChannelMessageDecoder, e.onUpdate)
	e.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

func (e *Engine) notify() {
	if e.onUpdate != nil {
		e.onUpdate()
	}
}

// Self returns the current identity; zero before readiness.
func (e *Engine) Self() models.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Channels returns the ordered channel list.
func (e *Engine) Channels() []models.Channel {
	e.mu.Lock()
	directory := e.directory
	e.mu.Unlock()
	if directory == nil {
		return nil
	}
	return directory.Channels()
}

// ActiveChannelID returns the selected channel id, "" when none.
func (e *Engine) ActiveChannelID() string {
	e.mu.Lock()
	directory := e.directory
	e.mu.Unlock()
	if directory == nil {
		return ""
	}
	return directory.ActiveID()
}

// ChannelMessages returns the active channel's ordered messages.
func (e *Engine) ChannelMessages() []models.Message {
	e.mu.Lock()
	ses := e.channelSes
	e.mu.Unlock()
	if ses == nil {
		return nil
	}
	return ses.Messages()
}

// Threads returns the DM thread list, most recent activity first.
func (e *Engine) Threads() []models.DMThread {
	e.mu.Lock()
	threads := e.threads
	e.mu.Unlock()
	if threads == nil {
		return nil
	}
	return threads.Threads()
}

// UnreadCounts returns per-peer unread counts.
func (e *Engine) UnreadCounts() map[string]int {
	e.mu.Lock()
	unread := e.unread
	e.mu.Unlock()
	if unread == nil {
		return nil
	}
	return unread.Counts()
}

// UnreadCount returns one peer's unread count.
func (e *Engine) UnreadCount(peerID string) int {
	e.mu.Lock()
	unread := e.unread
	e.mu.Unlock()
	if unread == nil {
		return 0
	}
	return unread.Count(peerID)
}

// DMMessages returns the open DM conversation's ordered messages.
func (e *Engine) DMMessages() []models.Message {
	e.mu.Lock()
	ses := e.dmSes
	e.mu.Unlock()
	if ses == nil {
		return nil
	}
	return ses.Messages()
}

// ActivePeerID returns the open DM conversation's peer id, "" when none.
func (e *Engine) ActivePeerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dmPeer.ID
}

// RepairState returns the membership repairer's state.
func (e *Engine) RepairState() RepairState {
	e.mu.Lock()
	repairer := e.repairer
	e.mu.Unlock()
	if repairer == nil {
		return RepairNotStarted
	}
	return repairer.State()
}

// SetActiveChannel selects a channel from the current list. Unknown ids are
// rejected; selection only jumps implicitly when the active channel vanishes.
func (e *Engine) SetActiveChannel(channelID string) error {
	e.mu.Lock()
	directory := e.directory
	self := e.self
	e.mu.Unlock()
	if self.ID == "" || directory == nil {
		return ErrNotAuthenticated
	}
	if !containsChannel(directory.Channels(), channelID) {
		return ErrNoActiveChannel
	}
	directory.SetActive(channelID)
	e.followChannel(channelID)
	e.notify()
	return nil
}

// CreateChannel creates a channel with a normalized name and selects it. The
// creator is the sole member at creation time; the repair engine backfills
// everyone else once the new snapshot lands. The selection is applied before
// the snapshot echoes back; the echo confirms it.
func (e *Engine) CreateChannel(ctx context.Context, name, description string) (string, error) {
	e.mu.Lock()
	self := e.self
	base := e.base
	directory := e.directory
	e.mu.Unlock()
	if self.ID == "" || directory == nil {
		return "", ErrNotAuthenticated
	}

	normalized, err := models.NormalizeChannelName(name)
	if err != nil {
		return "", err
	}

	channelID := uuid.NewString()
	record := map[string]any{
		"name":           normalized,
		"createdAt":      e.now(),
		"createdByEmail": self.Email,
		"public":         true,
		"members":        map[string]any{self.ID: true},
	}
	if description != "" {
		record["description"] = description
	}
	if err := e.store.Write(ctx, store.ChannelPath(base, channelID), record); err != nil {
		return "", err
	}

	directory.SetActive(channelID)
	e.followChannel(channelID)
	e.notify()
	log := logging.WithChannel(channelID)
	log.Info().Str("name", normalized).Msg("channel created")
	return channelID, nil
}

// SendChannelMessage appends a message to the active channel, stamped with
// the sender's clock and display snapshot.
func (e *Engine) SendChannelMessage(ctx context.Context, text string) error {
	e.mu.Lock()
	self := e.self
	base := e.base
	directory := e.directory
	e.mu.Unlock()
	if self.ID == "" || directory == nil {
		return ErrNotAuthenticated
	}
	channelID := directory.ActiveID()
	if channelID == "" {
		return ErrNoActiveChannel
	}

	normalized, err := models.NormalizeMessageText(text)
	if err != nil {
		// Blank input is a silent no-op, not a failure.
		return nil
	}

	record := map[string]any{
		"text":      normalized,
		"createdAt": e.now(),
		"user":      snapshotValue(self.Snapshot()),
	}
	path := store.Join(store.ChannelMessagesPath(base, channelID), uuid.NewString())
	return e.store.Write(ctx, path, record)
}

// StartDM opens (or reopens) the DM conversation with peerID. Both thread
// records get their display fields refreshed and the caller's read watermark
// advances, but lastMessageAt is never touched: opening a conversation is not
// activity and must not reorder anyone's thread list.
func (e *Engine) StartDM(ctx context.Context, peerID string) error {
	e.mu.Lock()
	self := e.self
	index := e.index
	unread := e.unread
	e.mu.Unlock()
	if self.ID == "" {
		return ErrNotAuthenticated
	}
	if self.IsGuest {
		return ErrGuestRestricted
	}
	if peerID == "" || peerID == self.ID {
		return ErrSelfConversation
	}

	var peer models.Identity
	found := false
	if index != nil {
		peer, found = index.Get(peerID)
	}
	if !found {
		peer = identity.LookupProfile(ctx, e.store, peerID)
	}
	peerSnap := peer.Snapshot()
	selfSnap := self.Snapshot()

	writes := map[string]store.Value{
		store.Join(store.DMThreadPath(self.ID, peerID), "otherName"):   peerSnap.Name,
		store.Join(store.DMThreadPath(self.ID, peerID), "otherAvatar"): peerSnap.Avatar,
		store.Join(store.DMThreadPath(self.ID, peerID), "lastReadAt"):  e.now(),
		store.Join(store.DMThreadPath(peerID, self.ID), "otherName"):   selfSnap.Name,
		store.Join(store.DMThreadPath(peerID, self.ID), "otherAvatar"): selfSnap.Avatar,
	}
	if err := e.store.AtomicWrite(ctx, writes); err != nil {
		return err
	}

	conversationID := models.ConversationID(self.ID, peerID)
	e.mu.Lock()
	previous := e.dmSes
	if previous != nil && previous.Path() == store.DirectMessagesPath(conversationID) {
		e.mu.Unlock()
		if unread != nil {
			unread.MarkRead(peerID)
		}
		return nil
	}
	e.dmPeer = peer
	e.dmSes = OpenConversation(e.store, store.DirectMessagesPath(conversationID), DMMessageDecoder, e.onUpdate)
	e.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	if unread != nil {
		unread.MarkRead(peerID)
	}
	e.notify()
	log := logging.WithConversation(conversationID)
	log.Debug().Msg("conversation opened")
	return nil
}

// SendDM appends a message to the open DM conversation and bumps
// lastMessageAt on both thread records in the same atomic write, so both
// thread lists reorder together or not at all.
func (e *Engine) SendDM(ctx context.Context, text string) error {
	e.mu.Lock()
	self := e.self
	peer := e.dmPeer
	e.mu.Unlock()
	if self.ID == "" {
		return ErrNotAuthenticated
	}
	if self.IsGuest {
		return ErrGuestRestricted
	}
	if peer.ID == "" {
		return ErrNoActivePeer
	}

	normalized, err := models.NormalizeMessageText(text)
	if err != nil {
		return nil
	}

	now := e.now()
	conversationID := models.ConversationID(self.ID, peer.ID)
	record := map[string]any{
		"text":      normalized,
		"createdAt": now,
		"from":      snapshotValue(self.Snapshot()),
		"to":        snapshotValue(peer.Snapshot()),
	}
	writes := map[string]store.Value{
		store.Join(store.DirectMessagesPath(conversationID), uuid.NewString()): record,
		store.Join(store.DMThreadPath(self.ID, peer.ID), "lastMessageAt"):      now,
		store.Join(store.DMThreadPath(peer.ID, self.ID), "lastMessageAt"):      now,
	}
	return e.store.AtomicWrite(ctx, writes)
}

// MarkRead advances the read watermark for a thread. The local counter zeroes
// before the store write, so the unread badge clears without waiting on the
// round trip.
func (e *Engine) MarkRead(ctx context.Context, peerID string) error {
	e.mu.Lock()
	self := e.self
	unread := e.unread
	e.mu.Unlock()
	if self.ID == "" {
		return ErrNotAuthenticated
	}
	if unread != nil {
		unread.MarkRead(peerID)
	}
	e.notify()
	path := store.Join(store.DMThreadPath(self.ID, peerID), "lastReadAt")
	return e.store.Write(ctx, path, e.now())
}

// CloseDM closes the open DM conversation session, if any.
func (e *Engine) CloseDM() {
	e.mu.Lock()
	previous := e.dmSes
	e.dmSes = nil
	e.dmPeer = models.Identity{}
	e.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	e.notify()
}

func snapshotValue(s models.IdentitySnapshot) map[string]any {
	return map[string]any{
		"id":     s.ID,
		"name":   s.Name,
		"email":  s.Email,
		"avatar": s.Avatar,
	}
}
