// Package service wires configuration, storage, MQTT and the HTTP API
// into a running NarrativeForge process.
package service

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/AaronLay10/NarrativeForge/internal/api"
	"github.com/AaronLay10/NarrativeForge/internal/config"
	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/logging"
	"github.com/AaronLay10/NarrativeForge/internal/mqtt"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
	"github.com/AaronLay10/NarrativeForge/internal/storage/postgres"
	"github.com/AaronLay10/NarrativeForge/internal/storage/sqlite"
	"github.com/AaronLay10/NarrativeForge/internal/version"
	"github.com/AaronLay10/NarrativeForge/internal/yarn"
)

// GraphStore is a graph repository that can also resolve graphs for
// the engine.
type GraphStore interface {
	api.GraphStore
	orchestrator.GraphResolver
}

// cachedStore keeps the resolver cache coherent with writes made
// through the API.
type cachedStore struct {
	GraphStore
	cache *orchestrator.CachedResolver
}

func (s cachedStore) PutGraph(ctx context.Context, g *forge.Graph) error {
	if err := s.GraphStore.PutGraph(ctx, g); err != nil {
		return err
	}
	s.cache.Invalidate(g.ID)
	return nil
}

func (s cachedStore) DeleteGraph(ctx context.Context, graphID string) error {
	if err := s.GraphStore.DeleteGraph(ctx, graphID); err != nil {
		return err
	}
	s.cache.Invalidate(graphID)
	return nil
}

// Storage is the opened backend. Graphs is nil for driver none, where
// graphs are read from a directory.
type Storage struct {
	Graphs   GraphStore
	Resolver orchestrator.GraphResolver
	Events   events.Store
	closer   io.Closer
}

// Close releases the backend.
func (s *Storage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenStorage opens the backend selected by cfg.Storage.Driver.
func OpenStorage(ctx context.Context, cfg *config.ForgeConfig) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		client, err := postgres.New(ctx, cfg.Storage.DSN, cfg.Service.Name)
		if err != nil {
			return nil, err
		}
		return &Storage{Graphs: client, Resolver: client, Events: client, closer: client}, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		return &Storage{Graphs: store, Resolver: store, Events: store, closer: store}, nil
	case config.DriverNone, "":
		dir := cfg.Storage.GraphDir
		if dir == "" {
			dir = "."
		}
		return &Storage{Resolver: orchestrator.DirResolver{Dir: dir}}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Run starts the service and blocks until ctx is cancelled or the HTTP
// server fails.
func Run(ctx context.Context, cfg *config.ForgeConfig) error {
	logger := logging.New("service")
	hostname, _ := os.Hostname()

	api.InitMetrics(cfg.Service.Name)
	api.InitTLS()
	if err := api.InitAuth(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	// Storage is required once configured; a directory is always there.
	api.SetStorageState(true, store.Graphs == nil)
	if store.Events != nil {
		events.SetStore(store.Events)
		defer events.SetStore(nil)
	}

	cache := orchestrator.NewCachedResolver(store.Resolver)
	var graphs api.GraphStore
	if store.Graphs != nil {
		graphs = cachedStore{GraphStore: store.Graphs, cache: cache}
	}

	engine := orchestrator.NewEngine(cache,
		orchestrator.WithLogger(logging.New("engine")),
		orchestrator.WithMaxSteps(cfg.Engine.MaxSteps))

	var (
		client    *mqtt.Client
		publisher orchestrator.FramePublisher
	)
	if cfg.MQTT.URL != "" {
		client = mqtt.NewClient(cfg.MQTT.URL, cfg.MQTT.ClientID, logging.New("mqtt"))
		publisher = mqtt.NewFramePublisher(client, cfg.MQTT.FrameTopic)
	}
	rt := orchestrator.NewRuntime(engine, publisher, logging.New("runtime"))

	if client != nil {
		sub := mqtt.NewCommandSubscriber(client, rt, cfg.MQTT.CommandTopic, logging.New("mqtt"))
		client.OnConnect(func() {
			sub.Reset()
			if err := sub.Subscribe(); err != nil {
				logger.Warn("command subscribe failed", "topic", cfg.MQTT.CommandTopic, "error", err)
			}
			api.SetMQTTState(true, true)
		})
		api.SetMQTTState(client.Start(), true)
		defer client.Disconnect()
	}

	if store.Events != nil {
		planned, replayed, err := orchestrator.RestoreFromEvents(ctx, store.Events, orchestrator.DefaultRestoreLimit)
		if err != nil {
			logger.Warn("session restore failed", "error", err)
		} else {
			orchestrator.EmitStartupRestore(replayed, rt.ApplyRestored(ctx, planned))
		}
	}
	api.SetRuntimeReady(true)

	events.Emit("info", "system.startup", "narrativeforge starting", map[string]any{
		"service":  cfg.Service.Name,
		"hostname": hostname,
		"pid":      os.Getpid(),
		"version":  version.Version,
		"storage":  cfg.Storage.Driver,
	})
	defer events.Emit("info", "system.shutdown", "", map[string]any{"service": cfg.Service.Name})

	conv := yarn.New(cache, yarn.WithLogger(logging.New("yarn")))
	srv := api.NewServer(rt, conv, graphs, logging.New("api"))
	return srv.ListenAndServe(ctx, cfg.Addr())
}
