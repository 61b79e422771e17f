/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aiulian25/soundwave/internal/api"
	"github.com/aiulian25/soundwave/internal/audit"
	"github.com/aiulian25/soundwave/internal/cache"
	"github.com/aiulian25/soundwave/internal/config"
	"github.com/aiulian25/soundwave/internal/db"
	"github.com/aiulian25/soundwave/internal/eventbus"
	"github.com/aiulian25/soundwave/internal/events"
	"github.com/aiulian25/soundwave/internal/history"
	"github.com/aiulian25/soundwave/internal/ingest"
	"github.com/aiulian25/soundwave/internal/leadership"
	"github.com/aiulian25/soundwave/internal/logbuffer"
	"github.com/aiulian25/soundwave/internal/media"
	"github.com/aiulian25/soundwave/internal/models"
	"github.com/aiulian25/soundwave/internal/playlists"
	"github.com/aiulian25/soundwave/internal/radio"
	"github.com/aiulian25/soundwave/internal/rules"
	"github.com/aiulian25/soundwave/internal/stats"
	"github.com/aiulian25/soundwave/internal/subscriptions"
	"github.com/aiulian25/soundwave/internal/telemetry"
	"github.com/aiulian25/soundwave/internal/version"
	"github.com/aiulian25/soundwave/internal/webhooks"
)

const (
	requestTimeoutDuration = 60 * time.Second
	dbMetricsInterval      = 30 * time.Second
)

// Server owns the HTTP stack, the domain services, and their lifecycles.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	api       *api.API
	bus       events.Broker
	election  *leadership.Election

	playlistSvc *playlists.Service
	radioSvc    *radio.Service
	subSvc      *subscriptions.Service
	ingestSvc   *ingest.Service
	mediaSvc    *media.Service
	historySvc  *history.Service
	webhookSvc  *webhooks.Service
	auditSvc    *audit.Service
	updates     *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    newRouter(),
		logBuffer: logBuf,
	}

	if err := srv.initStorage(); err != nil {
		return nil, err
	}
	if err := srv.initEventBus(); err != nil {
		return nil, err
	}
	isLeader, err := srv.initLeadership()
	if err != nil {
		return nil, err
	}
	if err := srv.initServices(isLeader); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler: srv.router,
		// No global read or write deadlines: event streams and audio
		// delivery are long-lived. Slowloris is contained by the header
		// deadline, everything else by the per-route timeout middleware.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(telemetry.TracingMiddleware("soundwave-api"))
	r.Use(telemetry.MetricsMiddleware)
	r.Use(requestTimeout(requestTimeoutDuration))
	return r
}

// requestTimeout deadlines every route except WebSocket upgrades and
// audio delivery, which outlive any sane request budget.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timed := middleware.Timeout(d)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" || isStreamPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	}
}

// isStreamPath reports whether the request serves track audio, which can
// run far past the middleware timeout on slow clients.
func isStreamPath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/tracks/") && strings.HasSuffix(path, "/stream")
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		// media-src allows presigned object storage URLs after the stream redirect.
		w.Header().Set("Content-Security-Policy", "default-src 'self' 'unsafe-inline' data: blob:; media-src 'self' blob: https:; img-src 'self' data: https:; frame-ancestors 'none'; base-uri 'self'")

		// HSTS only makes sense on connections that already speak TLS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// initStorage opens the database and media backends plus the optional
// Redis cache.
func (s *Server) initStorage() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register db metrics callbacks: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := os.MkdirAll(s.cfg.MediaRoot, 0o755); err != nil {
		return fmt.Errorf("create media root %s: %w", s.cfg.MediaRoot, err)
	}
	s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")

	// Hot-read cache (stats summary, playlist orders). The no-op cache
	// keeps call sites unconditional when Redis is absent or down.
	s.cache = cache.Disabled(s.logger)
	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache unavailable, continuing without")
		} else {
			s.cache = entityCache
			s.DeferClose(s.cache.Close)
		}
	}
	return nil
}

// initEventBus picks the event transport. Redis and NATS buses keep
// delivering node-locally when the broker is down.
func (s *Server) initEventBus() error {
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NewNodeID()
	}

	switch s.cfg.EventBus {
	case config.EventBusRedis:
		busCfg := eventbus.DefaultRedisConfig()
		busCfg.Addr = s.cfg.RedisAddr
		busCfg.Password = s.cfg.RedisPassword
		busCfg.DB = s.cfg.RedisDB
		bus, err := eventbus.NewRedisBus(busCfg, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("create redis event bus: %w", err)
		}
		s.bus = bus
		s.DeferClose(bus.Close)
		s.logger.Info().Str("addr", busCfg.Addr).Str("node_id", nodeID).Msg("redis event bus enabled")

	case config.EventBusNATS:
		busCfg := eventbus.DefaultNATSConfig()
		if s.cfg.NATSURL != "" {
			busCfg.URL = s.cfg.NATSURL
		}
		bus, err := eventbus.NewNATSBus(busCfg, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("create nats event bus: %w", err)
		}
		s.bus = bus
		s.DeferClose(bus.Close)
		s.logger.Info().Str("url", busCfg.URL).Str("node_id", nodeID).Msg("nats event bus enabled")

	default:
		s.bus = events.NewBus()
	}
	return nil
}

// initLeadership wires the gate for singleton background loops. Without
// election every node acts as its own leader.
func (s *Server) initLeadership() (func() bool, error) {
	if !s.cfg.LeaderElectionEnabled {
		return func() bool { return true }, nil
	}

	election, err := leadership.NewElection(leadership.ElectionConfig{
		RedisAddr:       s.cfg.RedisAddr,
		RedisPassword:   s.cfg.RedisPassword,
		RedisDB:         s.cfg.RedisDB,
		ElectionKey:     "soundwave:leader:refresh",
		LeaseDuration:   15 * time.Second,
		RenewalInterval: 5 * time.Second,
		RetryInterval:   2 * time.Second,
		InstanceID:      s.cfg.InstanceID,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create leader election: %w", err)
	}
	s.election = election
	s.DeferClose(election.Stop)

	s.logger.Info().Str("redis_addr", s.cfg.RedisAddr).Msg("leader election enabled for subscription refresh")
	return election.IsLeader, nil
}

func (s *Server) initServices(isLeader func() bool) error {
	mediaSvc, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("init media service: %w", err)
	}
	s.mediaSvc = mediaSvc

	engine := rules.New(s.db, s.logger)
	s.playlistSvc = playlists.New(s.db, engine, s.cache, s.bus, s.logger)
	s.radioSvc = radio.New(s.db, s.bus, s.logger, s.cfg.RadioDislikedDropProbability)

	var fetcher ingest.Downloader
	if s.cfg.FetcherBin != "" {
		fetcher = ingest.NewExecDownloader(s.cfg.FetcherBin, s.logger)
	}
	s.ingestSvc = ingest.New(s.db, mediaSvc, fetcher, s.bus, s.logger, s.cfg)

	feeds := subscriptions.NewRSSFeedSource(s.logger)
	s.subSvc = subscriptions.New(s.db, feeds, s.ingestSvc, s.bus, s.logger, s.cfg.RefreshInterval, isLeader)

	statsSvc := stats.New(s.db, s.cache, s.logger)
	s.auditSvc = audit.NewService(s.db, s.bus, s.logger)
	s.historySvc = history.New(s.db, s.bus, s.logger, s.cfg.HistoryRetentionDays)

	s.webhookSvc = webhooks.New(s.cfg, s.bus, s.logger)
	if s.webhookSvc.Enabled() {
		s.logger.Info().Str("url", s.cfg.WebhookURL).Msg("outbound webhooks enabled")
	}

	s.updates = version.NewChecker(s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.playlistSvc, s.radioSvc, s.subSvc, s.ingestSvc, mediaSvc, statsSvc, s.auditSvc, s.bus, s.cache, s.logBuffer, s.updates, s.logger)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// spawn runs fn under the background WaitGroup so Close can drain it.
func (s *Server) spawn(ctx context.Context, fn func(context.Context)) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn(ctx)
	}()
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("start leader election")
		}
	}

	s.spawn(ctx, func(ctx context.Context) {
		if err := s.ingestSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("ingest pipeline exited")
		}
	})
	s.spawn(ctx, func(ctx context.Context) {
		if err := s.subSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("subscription refresh loop exited")
		}
	})
	s.spawn(ctx, s.historySvc.Run)
	s.spawn(ctx, s.auditSvc.Run)
	s.spawn(ctx, s.webhookSvc.Run)
	// The version checker's first probe blocks; keep it off the startup path.
	s.spawn(ctx, s.updates.Start)
	s.spawn(ctx, s.pollDBMetrics)
	s.spawn(ctx, s.seedSystemPlaylists)
	s.spawn(ctx, s.runCacheInvalidationListener)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// pollDBMetrics samples the connection pool gauge until shutdown.
func (s *Server) pollDBMetrics(ctx context.Context) {
	ticker := time.NewTicker(dbMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.SamplePoolStats(s.db)
		}
	}
}

// seedSystemPlaylists backfills the built-in smart playlists for every
// account, covering users created before a preset existed.
func (s *Server) seedSystemPlaylists(ctx context.Context) {
	var userIDs []string
	if err := s.db.WithContext(ctx).Model(&models.User{}).Pluck("id", &userIDs).Error; err != nil {
		s.logger.Error().Err(err).Msg("list users for system playlist seeding")
		return
	}
	for _, id := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if err := s.playlistSvc.EnsureSystemPlaylists(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("user_id", id).Msg("seed system playlists")
		}
	}
}

// runCacheInvalidationListener subscribes to library events and drops the
// affected cache entries. With a distributed bus this also covers writes
// made by other nodes.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	trackCreated := s.bus.Subscribe(events.EventTrackCreated)
	trackDeleted := s.bus.Subscribe(events.EventTrackDeleted)
	trackFavorited := s.bus.Subscribe(events.EventTrackFavorited)
	trackPlayed := s.bus.Subscribe(events.EventTrackPlayed)
	playlistUpdated := s.bus.Subscribe(events.EventPlaylistUpdated)
	playlistDeleted := s.bus.Subscribe(events.EventPlaylistDeleted)
	radioAdvanced := s.bus.Subscribe(events.EventRadioAdvanced)
	radioStopped := s.bus.Subscribe(events.EventRadioStopped)

	defer func() {
		s.bus.Unsubscribe(events.EventTrackCreated, trackCreated)
		s.bus.Unsubscribe(events.EventTrackDeleted, trackDeleted)
		s.bus.Unsubscribe(events.EventTrackFavorited, trackFavorited)
		s.bus.Unsubscribe(events.EventTrackPlayed, trackPlayed)
		s.bus.Unsubscribe(events.EventPlaylistUpdated, playlistUpdated)
		s.bus.Unsubscribe(events.EventPlaylistDeleted, playlistDeleted)
		s.bus.Unsubscribe(events.EventRadioAdvanced, radioAdvanced)
		s.bus.Unsubscribe(events.EventRadioStopped, radioStopped)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-trackCreated:
			s.invalidateLibrary(ctx, payload, "track created")

		case payload := <-trackDeleted:
			if trackID, ok := payload["track_id"].(string); ok {
				s.cache.InvalidateTrack(ctx, trackID)
			}
			s.invalidateLibrary(ctx, payload, "track deleted")

		case payload := <-trackFavorited:
			if trackID, ok := payload["track_id"].(string); ok {
				s.cache.InvalidateTrack(ctx, trackID)
			}
			s.invalidateLibrary(ctx, payload, "track favorited")

		case payload := <-trackPlayed:
			// Play counters feed the stats summary; evaluation caches age
			// out by TTL instead.
			if ownerID, ok := payload["owner_id"].(string); ok {
				s.cache.InvalidateSummary(ctx, ownerID)
			}

		case payload := <-playlistUpdated:
			if playlistID, ok := payload["playlist_id"].(string); ok {
				s.logger.Debug().Str("playlist_id", playlistID).Msg("invalidating playlist cache (playlist updated)")
				s.cache.InvalidatePlaylistOrder(ctx, playlistID)
			}

		case payload := <-playlistDeleted:
			if playlistID, ok := payload["playlist_id"].(string); ok {
				s.logger.Debug().Str("playlist_id", playlistID).Msg("invalidating playlist cache (playlist deleted)")
				s.cache.InvalidatePlaylistOrder(ctx, playlistID)
			}

		case payload := <-radioAdvanced:
			// The current track changed; the next now-playing read
			// re-primes the entry.
			if ownerID, ok := payload["owner_id"].(string); ok {
				s.cache.InvalidateNowPlaying(ctx, ownerID)
			}

		case payload := <-radioStopped:
			if ownerID, ok := payload["owner_id"].(string); ok {
				s.cache.InvalidateNowPlaying(ctx, ownerID)
			}
		}
	}
}

// invalidateLibrary drops every per-owner cache a library mutation can
// affect, plus the parked playlist evaluations, which are keyed by playlist
// and cleared globally.
func (s *Server) invalidateLibrary(ctx context.Context, payload events.Payload, reason string) {
	s.logger.Debug().Str("reason", reason).Msg("invalidating library caches")
	if ownerID, ok := payload["owner_id"].(string); ok {
		s.cache.InvalidateOwner(ctx, ownerID)
		return
	}
	s.cache.InvalidateAllPlaylistOrders(ctx)
}

type healthStatus struct {
	Status string `json:"status"`
	Leader *bool  `json:"leader,omitempty"`
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := healthStatus{Status: "ok"}
		if s.election != nil {
			leading := s.election.IsLeader()
			health.Leader = &leading
		}

		body, _ := json.Marshal(health)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
