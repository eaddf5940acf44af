// Package agent wires the monitoring components together and runs them for
// the life of the process.
package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"deskwatch/internal/activity"
	"deskwatch/internal/auth"
	"deskwatch/internal/config"
	"deskwatch/internal/database"
	"deskwatch/internal/encoder"
	"deskwatch/internal/events"
	"deskwatch/internal/netusage"
	"deskwatch/internal/platform"
	"deskwatch/internal/recorder"
	"deskwatch/internal/screenshot"
	"deskwatch/internal/server"
	"deskwatch/internal/session"
	"deskwatch/internal/storage"
)

type Agent struct {
	cfg     *config.Config
	db      database.Service
	gateway storage.Gateway
	caps    platform.Capabilities
	hub     *events.Hub
	ctl     *session.Controller
	network *netusage.Reporter
	server  *server.FiberServer
}

// EncoderParams converts the recording config.
func EncoderParams(cfg config.RecordingConfig) encoder.Params {
	p := encoder.DefaultParams()
	p.FrameRate = cfg.FrameRate
	p.Codec = cfg.Codec
	p.Preset = cfg.Preset
	p.CRF = cfg.CRF
	p.Display = cfg.Display
	return p
}

// NewSupervisor builds the encoder supervisor from config. progress may be
// nil.
func NewSupervisor(cfg *config.Config, progress func(encoder.Progress)) *encoder.Supervisor {
	locator := encoder.NewLocator(cfg.Recording.EncoderName, cfg.BinDir(), cfg.Recording.EncoderURL)
	locator.Progress = progress
	return encoder.NewSupervisor(locator)
}

// OpenStorage connects to MongoDB. When the client cannot be created the
// agent runs against an offline gateway and every write is skipped.
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig) (database.Service, storage.Gateway) {
	db, err := database.New(cfg)
	if err != nil {
		log.Printf("Agent: database unavailable, running without storage: %v", err)
		return nil, storage.Offline{}
	}
	store, err := storage.NewMongoStore(db)
	if err != nil {
		log.Printf("Agent: storage setup failed, running without storage: %v", err)
		return db, storage.Offline{}
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Printf("Agent: failed to create indexes: %v", err)
	}
	return db, store
}

func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	a := &Agent{cfg: cfg, hub: events.NewHub()}

	a.db, a.gateway = OpenStorage(ctx, cfg.Database)
	guard := storage.NewGuard(a.gateway)

	a.caps = platform.Detect()
	log.Printf("Agent: platform capabilities: %s", a.caps)

	supervisor := NewSupervisor(cfg, func(p encoder.Progress) {
		a.hub.Publish("encoder-download", p)
	})

	schedule, err := screenshot.NewSchedule(cfg.Screenshot.MinInterval, cfg.Screenshot.MaxInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid screenshot interval: %w", err)
	}
	sampler := screenshot.NewSampler(a.caps.Screen, schedule)
	sampler.Windows = a.caps.Windows

	opts := session.Options{
		UserID:        cfg.Agent.UserID,
		RecordingsDir: cfg.RecordingsDir(),
		Thresholds: activity.Thresholds{
			Idle:         cfg.Idle.IdleThreshold,
			Deep:         cfg.Idle.DeepThreshold,
			Poll:         cfg.Idle.PollInterval,
			PersistEvery: cfg.Idle.PersistInterval,
			SampleEvery:  cfg.Idle.SampleInterval,
		},
	}
	if cfg.Screenshot.KeepLocal {
		opts.ScreenshotsDir = cfg.ScreenshotsDir()
	}

	a.ctl = session.New(opts, session.Deps{
		Recorder:   recorder.NewSegmentManager(supervisor, EncoderParams(cfg.Recording)),
		Prober:     supervisor,
		Sampler:    sampler,
		Store:      guard,
		SystemIdle: a.caps.Idle,
		Events:     a.hub,
	})

	a.network = netusage.NewReporter(nil, cfg.Network.SampleInterval, guard, a.hub, cfg.Agent.UserID)

	deps := server.Deps{
		Controller: a.ctl,
		Hub:        a.hub,
		JWT:        auth.NewJWTService(cfg.JWT.SecretKey, cfg.JWT.Expiration),
		Admin:      auth.NewAdmin(cfg.JWT.AdminPasswordHash),
	}
	if a.db != nil {
		deps.Health = a.db
	}
	if store, ok := a.gateway.(*storage.MongoStore); ok {
		deps.Reader = store
		deps.Images = store
	}
	a.server = server.New(cfg, deps)
	a.server.RegisterFiberRoutes()

	return a, nil
}

// Controller exposes the session controller.
func (a *Agent) Controller() *session.Controller { return a.ctl }

// Run serves the API until ctx is cancelled, then stops every activity and
// shuts the server down.
func (a *Agent) Run(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.hub.Run(bg)

	a.ctl.LoadExclusions(ctx, a.cfg.Agent.AdminWindowTitle)
	if a.cfg.Agent.AutoStartIdle {
		if err := a.ctl.StartIdle(ctx); err != nil {
			log.Printf("Agent: failed to start idle detection: %v", err)
		}
	}
	if a.cfg.Agent.AutoStartNetwork {
		go a.network.Run(bg)
	}

	errc := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
		log.Printf("Agent: listening on %s", addr)
		errc <- a.server.Listen(addr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Println("Agent: shutting down gracefully")
	case serveErr = <-errc:
		log.Printf("Agent: http server error: %v", serveErr)
	}

	// Finalizing a recording can outlast the HTTP deadline.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	a.ctl.Shutdown(stopCtx)
	stopCancel()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Agent: server forced to shutdown with error: %v", err)
	}

	a.Close()
	log.Println("Agent: exiting")
	return serveErr
}

func (a *Agent) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("Agent: failed to close database: %v", err)
		}
	}
}
