package treechat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/treechat/treechat/internal/config"
	"github.com/treechat/treechat/internal/identity"
	"github.com/treechat/treechat/internal/logging"
	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
	"github.com/treechat/treechat/internal/store/memstore"
	"github.com/treechat/treechat/internal/store/redisstore"
	"github.com/treechat/treechat/internal/store/wsstore"
	syncengine "github.com/treechat/treechat/internal/sync"
)

var settleTimeout = 5 * time.Second

// Runtime bundles everything a command needs: the resolved config, the store
// connection and a started engine signed in as the configured identity.
type Runtime struct {
	Config *config.Config
	Store  store.Store
	Engine *syncengine.Engine

	updates chan struct{}
	closers []func()
}

// EnsureRuntime loads config, connects the backend and starts the engine.
// Callers must Close.
func EnsureRuntime(cmd *cobra.Command) (*Runtime, error) {
	loader := config.NewLoader()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Store.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if id, _ := cmd.Flags().GetString("as"); id != "" {
		cfg.Identity.ID = id
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	self, err := resolveIdentity(cfg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, updates: make(chan struct{}, 64)}
	st, err := rt.openStore(cfg)
	if err != nil {
		return nil, err
	}
	rt.Store = st

	provider := identity.NewStaticProvider()
	rt.Engine = syncengine.NewEngine(st, provider, cfg.Engine, rt.onUpdate)
	rt.Engine.Start()
	rt.closers = append(rt.closers, rt.Engine.Close)
	provider.SignIn(self)

	return rt, nil
}

func resolveIdentity(cfg *config.Config) (models.Identity, error) {
	id := cfg.Identity.ID
	if id == "" {
		if !cfg.Identity.Guest {
			return models.Identity{}, fmt.Errorf("identity.id is required (or set identity.guest)")
		}
		id = "guest-" + uuid.NewString()
	}
	return models.Identity{
		ID:      id,
		Name:    cfg.Identity.Name,
		Email:   cfg.Identity.Email,
		Avatar:  cfg.Identity.Avatar,
		IsGuest: cfg.Identity.Guest,
	}, nil
}

func (rt *Runtime) openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		st := memstore.New()
		rt.closers = append(rt.closers, st.Close)
		return st, nil
	case config.BackendRedis:
		st, err := redisstore.New(cfg.Store.RedisAddr, cfg.Store.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = st.Close() })
		return st, nil
	case config.BackendWebsocket:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.DialTimeout)
		defer cancel()
		st, err := wsstore.Dial(ctx, cfg.Store.GatewayURL)
		if err != nil {
			return nil, fmt.Errorf("connect gateway: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = st.Close() })
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

func (rt *Runtime) onUpdate() {
	select {
	case rt.updates <- struct{}{}:
	default:
	}
}

// WaitSettled blocks until the condition holds or the settle timeout passes.
// Commands use it to let the initial snapshots land before reading views.
func (rt *Runtime) WaitSettled(cond func() bool) bool {
	deadline := time.After(settleTimeout)
	for {
		if cond() {
			return true
		}
		select {
		case <-rt.updates:
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			return cond()
		}
	}
}

// Updates exposes the coalesced change signal for watch-style commands.
func (rt *Runtime) Updates() <-chan struct{} {
	return rt.updates
}

// Close releases the engine and the store connection.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
