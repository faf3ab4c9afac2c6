package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/credgate/credgate/internal/api"
	"github.com/credgate/credgate/internal/app/grantor"
	"github.com/credgate/credgate/internal/app/trial"
	"github.com/credgate/credgate/internal/infra/abuse"
	"github.com/credgate/credgate/internal/infra/sqlite"
)

// Daemon is the long-running credit service process.
type Daemon struct {
	cfg     Config
	db      *sqlite.DB
	grantor *grantor.Grantor
	logger  *log.Logger
}

// New builds a daemon from a validated configuration. It opens the store
// and wires the scorer (counters backed by SQLite, so velocity state
// survives restarts), the policy engine, and the orchestrator.
func New(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(Home(), 0o755); err != nil {
		return nil, fmt.Errorf("create home dir: %w", err)
	}

	db, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	scorerCfg, err := cfg.ScorerConfig()
	if err != nil {
		db.Close()
		return nil, err
	}
	policyCfg, err := cfg.TrialPolicy()
	if err != nil {
		db.Close()
		return nil, err
	}

	scorer := abuse.NewScorer(scorerCfg, db)
	g := grantor.New(db, scorer, trial.NewEngine(policyCfg, db))

	return &Daemon{
		cfg:     cfg,
		db:      db,
		grantor: g,
		logger:  log.New(log.Writer(), "[daemon] ", log.LstdFlags),
	}, nil
}

// Run serves the HTTP API until the context is cancelled, then shuts
// down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.db.Close()

	server := api.NewServer(d.grantor)
	if d.cfg.Metrics.Enabled {
		server.EnableMetrics()
	}

	addr := fmt.Sprintf("%s:%d", d.cfg.API.Host, d.cfg.API.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go d.purgeLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		d.logger.Printf("listening on %s (trial mode %s)", addr, d.cfg.Trial.Mode)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		d.logger.Println("shut down")
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// purgeLoop drops expired velocity counters on a fixed interval.
func (d *Daemon) purgeLoop(ctx context.Context) {
	interval, err := d.cfg.PurgeInterval()
	if err != nil {
		// Validate() already rejected this; keep a sane fallback anyway.
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := d.grantor.PurgeCounters(); purged > 0 {
				d.logger.Printf("purged %d expired abuse counters", purged)
			}
		}
	}
}
