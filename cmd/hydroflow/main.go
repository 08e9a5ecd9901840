package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"hydroflow/internal/api"
	"hydroflow/internal/config"
	"hydroflow/internal/domain"
	"hydroflow/internal/history"
	"hydroflow/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	var (
		addr   = flag.String("addr", cfg.Addr, "HTTP bind address")
		dbPath = flag.String("db", cfg.DBPath, "SQLite attempt archive path (empty disables)")
		debug  = flag.Bool("debug", cfg.Debug, "mount pprof handlers")
		demo   = flag.Bool("demo", false, "register demo boundaries on startup")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.FrameBudget = cfg.FrameBudget
	schedCfg.MaxTasksPerFrame = cfg.MaxTasksPerFrame
	schedCfg.QueueCapacity = cfg.QueueCapacity
	schedCfg.IdleEnabled = cfg.IdleEnabled

	sched := scheduler.New(schedCfg, scheduler.Ports{}, nil)
	defer sched.Dispose()

	opts := []api.Option{}
	if *debug {
		opts = append(opts, api.WithDebug())
	}

	if *dbPath != "" {
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		defer db.Close()
		db.SetMaxOpenConns(1) // SQLite single writer

		if err := history.EnsureSchema(db); err != nil {
			log.Fatal().Err(err).Msg("ensure schema")
		}
		store := history.NewStore(db)
		detach := history.Attach(sched, store)
		defer detach()
		opts = append(opts, api.WithHistory(store))
		log.Info().Str("db", *dbPath).Msg("attempt archive enabled")
	}

	if *demo {
		registerDemoBoundaries(sched)
	}

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(sched, opts...)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

// registerDemoBoundaries seeds a mix of triggers so the API has
// something to show. Actions just burn a little time.
func registerDemoBoundaries(s *scheduler.Scheduler) {
	work := func(min, max time.Duration) domain.Action {
		return func(ctx context.Context) error {
			d := min + time.Duration(rand.Int63n(int64(max-min)))
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	boundaries := []domain.Task{
		{
			ID:       "header-nav",
			Priority: domain.PriorityCritical,
			Trigger:  domain.TriggerImmediate,
			Action:   work(time.Millisecond, 5*time.Millisecond),
			Meta:     domain.Metadata{Name: "Header navigation", AboveTheFold: true},
		},
		{
			ID:       "product-grid",
			Priority: domain.PriorityHigh,
			Trigger:  domain.TriggerImmediate,
			Action:   work(5*time.Millisecond, 20*time.Millisecond),
			Meta:     domain.Metadata{Name: "Product grid", AboveTheFold: true},
		},
		{
			ID:       "reviews",
			Priority: domain.PriorityNormal,
			Trigger:  domain.TriggerIdle,
			Action:   work(10*time.Millisecond, 30*time.Millisecond),
			Meta:     domain.Metadata{Name: "Customer reviews"},
		},
		{
			ID:       "newsletter-modal",
			Priority: domain.PriorityLow,
			Trigger:  domain.TriggerManual,
			Action:   work(time.Millisecond, 10*time.Millisecond),
			Meta:     domain.Metadata{Name: "Newsletter modal"},
		},
		{
			ID:       "analytics-beacon",
			Priority: domain.PriorityIdle,
			Trigger:  domain.TriggerScheduled,
			CronExpr: "*/5 * * * *",
			Action:   work(time.Millisecond, 3*time.Millisecond),
			Meta:     domain.Metadata{Name: "Analytics beacon"},
		},
		{
			ID:             "legal-footer",
			Priority:       domain.PriorityIdle,
			Trigger:        domain.TriggerIdle,
			NonInteractive: true,
			Action:         work(time.Millisecond, 2*time.Millisecond),
			Meta:           domain.Metadata{Name: "Legal footer"},
		},
	}

	for _, t := range boundaries {
		if err := s.Register(t); err != nil {
			log.Warn().Err(err).Str("boundary", string(t.ID)).Msg("demo register failed")
			continue
		}
		log.Info().Str("boundary", string(t.ID)).Str("trigger", string(t.Trigger)).Msg("demo boundary registered")
	}
}
