package sync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/treechat/treechat/internal/identity"
	"github.com/treechat/treechat/internal/logging"
	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
)

// RepairState is the membership repairer's one-shot state machine.
type RepairState int

const (
	// RepairNotStarted means no pass has completed yet.
	RepairNotStarted RepairState = iota
	// RepairRunning means a pass is in flight.
	RepairRunning
	// RepairDone means a pass completed; later input changes start a new one.
	RepairDone
	// RepairDisabled means the backend denied a repair write. Terminal for
	// the session.
	RepairDisabled
)

// Repairer reconciles channel membership with the known identities: every
// identity becomes a member of every channel on its root. Writes are
// idempotent and best-effort; the first permission denial disables the
// repairer for the rest of the session so denied writes never cascade.
type Repairer struct {
	store  store.Store
	logger zerolog.Logger

	mu    sync.Mutex
	state RepairState
}

// NewRepairer creates a repairer in the NotStarted state.
func NewRepairer(st store.Store) *Repairer {
	return &Repairer{
		store:  st,
		logger: logging.Component("membership-repair"),
	}
}

// State returns the current machine state.
func (r *Repairer) State() RepairState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run executes one repair pass against the channels under base. It never
// returns an error: permission denials disable the repairer, anything else is
// logged and leaves it eligible to run again on the next snapshot.
func (r *Repairer) Run(ctx context.Context, base string, channels []models.Channel, idx *identity.Index) {
	r.mu.Lock()
	if r.state == RepairDisabled || r.state == RepairRunning {
		r.mu.Unlock()
		return
	}
	r.state = RepairRunning
	r.mu.Unlock()

	writes := PlanRepair(base, channels, idx)
	if len(writes) == 0 {
		r.finish(RepairDone)
		return
	}

	if err := r.store.AtomicWrite(ctx, writes); err != nil {
		if store.IsPermissionDenied(err) {
			r.logger.Warn().Int("writes", len(writes)).
				Msg("membership repair denied, disabled for this session")
			r.finish(RepairDisabled)
			return
		}
		r.logger.Warn().Err(err).Msg("membership repair failed")
		r.finish(RepairNotStarted)
		return
	}

	r.logger.Debug().Int("writes", len(writes)).Msg("membership repair applied")
	r.finish(RepairDone)
}

func (r *Repairer) finish(state RepairState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// PlanRepair computes the missing member entries as a multi-path write set.
// A raw member key matching an identity under either historical scheme
// (record key or auth uid) counts as already present, so the plan never
// double-writes and reaches a fixed point: planning twice over the same
// inputs yields an empty set the second time.
func PlanRepair(base string, channels []models.Channel, idx *identity.Index) map[string]store.Value {
	writes := make(map[string]store.Value)
	for _, channel := range channels {
		present := make(map[string]bool, len(channel.Members))
		for rawKey := range channel.Members {
			if canonical, ok := idx.Resolve(rawKey); ok {
				present[canonical] = true
			}
		}
		for _, id := range idx.All() {
			if present[id.ID] {
				continue
			}
			writes[store.ChannelMemberPath(base, channel.ID, id.ID)] = true
		}
	}
	return writes
}
