package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ts4z/floorman/config"
	"github.com/ts4z/floorman/dbcache"
	"github.com/ts4z/floorman/dbnotify"
	"github.com/ts4z/floorman/dbutil"
	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/logging"
	"github.com/ts4z/floorman/permission"
	"github.com/ts4z/floorman/prizepool"
	"github.com/ts4z/floorman/relay"
	"github.com/ts4z/floorman/scheduler"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/tournament"
	"github.com/ts4z/floorman/ts"
	"github.com/ts4z/floorman/webapp"
)

const (
	structureCacheSize = 512
	subscriberBuffer   = 64
)

type storage interface {
	state.Storage
	dbcache.StructureFetcher
}

// backend is the state store plus, with Postgres, the pieces that carry
// events between floormand processes.
type backend struct {
	storage
	notifier *dbnotify.Notifier
	listener func(local gossip.Publisher) *dbnotify.Listener
}

func connect(ctx context.Context) (*backend, error) {
	db, err := dbutil.Connect(ctx)
	if errors.Is(err, dbutil.ErrNoDatabase) {
		log.Warn().Msg("running on in-memory storage; nothing will survive a restart")
		mem := state.NewMemStorage()
		if _, err := state.SeedPayoutTemplates(ctx, mem, "standard"); err != nil {
			return nil, err
		}
		return &backend{storage: mem}, nil
	} else if err != nil {
		return nil, err
	}

	dbs := state.NewDBStorage(db)
	if err := dbs.Migrate(ctx); err != nil {
		dbs.Close()
		return nil, err
	}
	origin := uuid.New()
	log.Info().Stringer("origin", origin).Msg("instance origin")
	return &backend{
		storage:  dbs,
		notifier: dbnotify.NewNotifier(db, origin),
		listener: func(local gossip.Publisher) *dbnotify.Listener {
			return dbnotify.NewListener(db, origin, local)
		},
	}, nil
}

func main() {
	config.Init()
	logging.Init(config.LogLevel(), config.LogPretty())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := ts.NewRealClock()

	store, err := connect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("can't open storage")
	}
	defer store.Close()

	registry := gossip.NewRegistry(clock.RealClock(), subscriberBuffer)
	publishers := gossip.Fanout{registry}
	if store.notifier != nil {
		publishers = append(publishers, store.notifier)
	}
	if url := config.AMQPURL(); url != "" {
		amqpRelay := relay.NewPublisher(url, config.AMQPQueue())
		defer amqpRelay.Close()
		publishers = append(publishers, amqpRelay)
	}

	templates := dbcache.NewTemplateStorage(store, clock, config.TemplateCacheTTL())
	structures := dbcache.NewStructureStorage(structureCacheSize, store)
	manager := tournament.NewManager(&tournament.Config{
		Storage:    store,
		Structures: structures,
		Aggregator: prizepool.NewAggregator(templates, clock),
		Publisher:  publishers,
		Clock:      clock,
	})

	tokens, err := permission.NewTokens(config.JWTSecret(), clock)
	if err != nil {
		log.Fatal().Err(err).Msg("can't set up tokens; set FLOORMAN_JWT_SECRET")
	}

	app := webapp.New(&webapp.Config{
		Facade:         permission.NewFacade(manager, templates),
		Registry:       registry,
		Tokens:         tokens,
		Clock:          clock,
		AllowedOrigins: config.AllowedOrigins(),
	})

	sched := scheduler.New(&scheduler.Config{
		Manager:              manager,
		Registry:             registry,
		Clock:                clock.RealClock(),
		TickInterval:         config.TickInterval(),
		AdvanceTimeout:       config.AdvanceTimeout(),
		Concurrency:          config.SchedulerConcurrency(),
		StaleInterval:        config.StaleInterval(),
		StaleThreshold:       config.StaleThreshold(),
		StartingSoonInterval: config.StartingSoonInterval(),
		StartingSoonWindow:   config.StartingSoonWindow(),
		StallTimeout:         config.SubscriberStallTimeout(),
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("can't start scheduler")
	}
	defer sched.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Serve(gctx, config.ListenAddress())
	})
	if store.listener != nil {
		listener := store.listener(gossip.Fanout{structures, registry})
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("floormand exited")
	}
	log.Info().Msg("floormand stopped")
}
