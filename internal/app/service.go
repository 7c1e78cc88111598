// Package app assembles the admin service from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"irepair-admin/common/database"
	commonmqtt "irepair-admin/common/mqtt"
	rediscommon "irepair-admin/common/redis"
	"irepair-admin/internal/changefeed"
	"irepair-admin/internal/config"
	"irepair-admin/internal/docstore"
	"irepair-admin/internal/httpapi"
	"irepair-admin/internal/session"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Service owns the store, the change feed, the sessions and the HTTP server
type Service struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client
	store       docstore.Store
	// runFeed consumes the shared change feed; nil in local mode
	runFeed  func(ctx context.Context) error
	sessions *session.Manager
	router   http.Handler
	server   *httpapi.Server
}

// NewService connects the configured backend and builds the HTTP stack
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	s := &Service{config: cfg, logger: logger}

	store, err := s.newStore()
	if err != nil {
		s.closeClients()
		return nil, err
	}
	s.store = store

	s.sessions = session.NewManager(store, cfg.Resolver.Concurrency, cfg.Session.IdleTTL, logger)
	handler := httpapi.NewHandler(s.sessions, cfg.Admin.DefaultActor, logger)
	s.router = httpapi.NewRouter(handler, logger)
	s.server = httpapi.NewServer(cfg.HTTP.Addr, s.router, logger)
	return s, nil
}

func (s *Service) newStore() (docstore.Store, error) {
	switch s.config.Store.Backend {
	case config.BackendMemory:
		return s.newMemoryStore()
	case config.BackendPostgres:
		return s.newPostgresStore()
	case config.BackendFirestore:
		fc := s.config.Firestore
		return docstore.NewFirestore(docstore.FirestoreConfig{
			BaseURL:      fc.BaseURL,
			ProjectID:    fc.ProjectID,
			APIKey:       fc.APIKey,
			PollInterval: fc.PollInterval,
		}, s.logger), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", s.config.Store.Backend)
	}
}

func (s *Service) newMemoryStore() (docstore.Store, error) {
	mem := docstore.NewMemory(s.logger)
	if path := s.config.Store.SeedFile; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		if err := mem.LoadSeed(f); err != nil {
			return nil, fmt.Errorf("failed to load seed file %s: %w", path, err)
		}
		s.logger.Info("Loaded seed documents", zap.String("file", path))
	}
	return mem, nil
}

func (s *Service) newPostgresStore() (docstore.Store, error) {
	db, err := database.NewPostgresDB(&s.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	hub := changefeed.NewHub()
	feed, err := s.newFeed(hub)
	if err != nil {
		return nil, err
	}

	store := docstore.NewPostgres(db, feed, hub, s.config.Store.PollInterval, s.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// newFeed picks how writes reach subscribers in other replicas
func (s *Service) newFeed(hub *changefeed.Hub) (changefeed.Publisher, error) {
	switch s.config.ChangeFeed.Mode {
	case config.FeedLocal:
		return changefeed.NewLocal(hub), nil
	case config.FeedRedis:
		s.redisClient = rediscommon.NewRedisClient(&s.config.Redis)
		if err := rediscommon.Ping(context.Background(), s.redisClient); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rs := changefeed.NewRedisStream(s.redisClient, hub, s.logger, s.config.ChangeFeed.Stream)
		s.runFeed = rs.Start
		return rs, nil
	case config.FeedMQTT:
		client, err := commonmqtt.NewClient(&s.config.MQTT, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		s.mqttClient = client
		m := changefeed.NewMQTT(client, hub, s.logger, s.config.MQTT.Topic, s.config.MQTT.QoS)
		s.runFeed = m.Start
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported change feed mode: %s", s.config.ChangeFeed.Mode)
	}
}

// Handler exposes the router, for tests and embedding
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start runs until ctx is cancelled or a component fails
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting irepair-admin service",
		zap.String("store_backend", s.config.Store.Backend),
		zap.String("changefeed_mode", s.config.ChangeFeed.Mode),
		zap.String("addr", s.config.HTTP.Addr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.server.Start)
	g.Go(func() error {
		s.sessions.Run(gctx)
		return nil
	})
	if s.runFeed != nil {
		g.Go(func() error { return s.runFeed(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Stop(stopCtx)
	})
	return g.Wait()
}

// Stop shuts the server down and releases every connection
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping irepair-admin service")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := s.server.Stop(stopCtx)

	s.sessions.CloseAll()
	s.closeClients()
	return err
}

func (s *Service) closeClients() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Warn("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
}
