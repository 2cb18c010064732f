// Package container wires every component into one explicit, ordered
// lifecycle. There is no global/singleton accessor: callers hold a
// *Container and drive Start/Stop themselves, following the teacher's
// cmd/thane/main.go runServe wiring order generalized into a reusable
// struct (REDESIGN FLAGS: no singleton).
package container

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/minionfabric/internal/channelsvc"
	"github.com/nugget/minionfabric/internal/config"
	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/emotional"
	"github.com/nugget/minionfabric/internal/eventbus"
	"github.com/nugget/minionfabric/internal/llmgen"
	"github.com/nugget/minionfabric/internal/minionrt"
	"github.com/nugget/minionfabric/internal/repo"
	"github.com/nugget/minionfabric/internal/wsbridge"
)

// Container owns every long-lived component and their start/stop
// order: (1) event bus, (2) repositories, (3) channel service, (4)
// emotional engines, (5) agent runtimes, (6) websocket bridge. Stop
// runs the reverse order, giving each component a chance to flush.
type Container struct {
	log *slog.Logger
	cfg *config.Config

	db     *sql.DB
	zapLog *zap.Logger

	Bus      *eventbus.Bus
	Channels *channelsvc.Service
	Bridge   *wsbridge.Bridge

	minions  []*minionrt.Runtime
	emotions []*emotional.Engine
}

// New constructs the Container's components without starting any
// background work; call Start to bring the system up.
func New(cfg *config.Config, log *slog.Logger, generator llmgen.Generator) (*Container, error) {
	if log == nil {
		log = slog.Default()
	}

	zapLog, err := newZapLogger()
	if err != nil {
		return nil, fmt.Errorf("container: build zap logger: %w", err)
	}

	bus := eventbus.New(zapLog.Named("eventbus"))
	bus.SetRateLimit("", cfg.EventBus.DefaultRateLimit)

	chanRepo, msgRepo, db, err := openRepositories(cfg)
	if err != nil {
		return nil, fmt.Errorf("container: open repositories: %w", err)
	}

	channels := channelsvc.New(log.With("component", "channelsvc"), bus, chanRepo, msgRepo)
	bridge := wsbridge.New(bus, log.With("component", "wsbridge"))

	c := &Container{
		log:      log,
		cfg:      cfg,
		db:       db,
		zapLog:   zapLog,
		Bus:      bus,
		Channels: channels,
		Bridge:   bridge,
	}

	for _, mc := range cfg.Minions {
		minion := minionFromConfig(mc)
		eng := emotional.New(minion.ID, bus, zapLog.Named("emotional").With(zap.String("minion_id", minion.ID)))
		rt := minionrt.New(minion, bus, channels, eng, generator, nil, log.With("minion_id", minion.ID))
		for _, ch := range mc.Channels {
			rt.SubscribeChannel(ch)
		}
		c.emotions = append(c.emotions, eng)
		c.minions = append(c.minions, rt)
	}

	return c, nil
}

func minionFromConfig(mc config.MinionConfig) coremodel.Minion {
	return coremodel.Minion{
		ID: mc.ID,
		Persona: coremodel.Persona{
			Name:            mc.Name,
			BasePersonality: mc.BasePersonality,
			Quirks:          mc.Quirks,
			Catchphrases:    mc.Catchphrases,
			ExpertiseAreas:  mc.ExpertiseAreas,
			AllowedTools:    mc.AllowedTools,
			ModelName:       mc.ModelName,
			Temperature:     mc.Temperature,
			MaxTokens:       mc.MaxTokens,
		},
		Status: coremodel.MinionIdle,
	}
}

func openRepositories(cfg *config.Config) (repo.ChannelRepository, repo.MessageRepository, *sql.DB, error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		return repo.NewInMemoryChannels(), repo.NewInMemoryMessages(), nil, nil
	case "sqlite3":
		db, err := repo.OpenSQLite(repo.DriverMattn, cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return repo.NewSQLiteChannels(db), repo.NewSQLiteMessages(db), db, nil
	case "sqlite":
		db, err := repo.OpenSQLite(repo.DriverModernc, cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return repo.NewSQLiteChannels(db), repo.NewSQLiteMessages(db), db, nil
	default:
		return nil, nil, nil, fmt.Errorf("container: unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newZapLogger builds the production zap.Logger backing the event bus's
// fan-out workers and each minion's emotional engine, the two
// high-frequency structured-logging paths the pack pulls zap in for.
// slog remains the ambient sink for everything else.
func newZapLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// Start brings every component up in dependency order.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Channels.Start(ctx); err != nil {
		return fmt.Errorf("container: start channel service: %w", err)
	}

	for _, eng := range c.emotions {
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("container: start emotional engine: %w", err)
		}
	}

	for _, rt := range c.minions {
		if err := rt.Start(ctx); err != nil {
			return fmt.Errorf("container: start agent runtime: %w", err)
		}
	}

	if err := c.Bridge.Start(ctx); err != nil {
		return fmt.Errorf("container: start websocket bridge: %w", err)
	}

	c.log.Info("container: started", "minions", len(c.minions))
	return nil
}

// Stop tears every component down in reverse order, giving each a
// chance to flush before the bus itself is closed.
func (c *Container) Stop(ctx context.Context) error {
	c.Bridge.Stop()

	for _, rt := range c.minions {
		rt.Stop()
	}

	for _, eng := range c.emotions {
		eng.Stop()
	}

	c.Channels.Stop(ctx)

	if err := c.Bus.Close(); err != nil {
		c.log.Warn("container: event bus close reported an error", "error", err)
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return fmt.Errorf("container: close database: %w", err)
		}
	}

	_ = c.zapLog.Sync() // best-effort flush; stderr/stdout Sync commonly errors on Linux and is safe to ignore

	c.log.Info("container: stopped")
	return nil
}

// Wait blocks until ctx is cancelled, then runs Stop with a fresh
// background context so shutdown work isn't cut short by the same
// cancellation that triggered it.
func (c *Container) Wait(ctx context.Context) error {
	<-ctx.Done()
	return c.Stop(context.Background())
}

// runGroup is a small helper other commands (e.g. a future admin
// HTTP surface) can use to fan out fixed-size startup work with
// shared cancellation, matching the teacher's use of errgroup for
// bounded concurrent fan-out elsewhere in the stack.
func runGroup(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
