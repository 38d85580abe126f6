// Command airport_etl runs the airport departures pipeline.
//
// Two independent cycles share nothing but the raw table:
//
//	scrape    - harvest today's departures board, normalize, persist
//	aggregate - recompute the derived statistics tables
//
// plus two helpers:
//
//	serve  - read-only stats API for the dashboard
//	schema - create the database schemas and exit
//
// Configuration is primarily via environment variables (flags can override):
// DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASS, BOARD_URL, AIRPORT,
// AIRPORT_TZ, NATS_URL, CLICKHOUSE_HOST, ...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Zioo02/Airport-etl/internal/api"
	"github.com/Zioo02/Airport-etl/internal/etl"
	"github.com/Zioo02/Airport-etl/internal/events"
	"github.com/Zioo02/Airport-etl/internal/journal"
	"github.com/Zioo02/Airport-etl/internal/pipeline"
	"github.com/Zioo02/Airport-etl/internal/scraper"
	"github.com/Zioo02/Airport-etl/internal/stats"
	"github.com/Zioo02/Airport-etl/internal/storage"
)

func usage(w *os.File) {
	fmt.Fprintln(w, "airport_etl - airport departures pipeline:")
	fmt.Fprintln(w, "  scrape     - harvest the departures board into flights_raw")
	fmt.Fprintln(w, "  aggregate  - recompute the derived statistics tables")
	fmt.Fprintln(w, "  serve      - run the read-only stats API")
	fmt.Fprintln(w, "  schema     - create database schemas and exit")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  airport_etl scrape [-url URL] [-interval 15m] ...")
	fmt.Fprintln(w, "  airport_etl aggregate [-interval 5m] ...")
	fmt.Fprintln(w, "  airport_etl serve [-port 8080] ...")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run a subcommand with -h for its full flag list.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch strings.ToLower(os.Args[1]) {
	case "scrape":
		runScrape(os.Args[2:])
	case "aggregate":
		runAggregate(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "schema":
		runSchema(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

// Environment fallbacks for flags.

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// storageFlags registers the shared datastore flags on fs and returns a
// loader producing the resolved config.
func storageFlags(fs *flag.FlagSet) func() storage.Config {
	def := storage.DefaultConfig()

	pgHost := fs.String("pg-host", envString("DB_HOST", def.Postgres.Host), "PostgreSQL host. Env: DB_HOST")
	pgPort := fs.Int("pg-port", envInt("DB_PORT", def.Postgres.Port), "PostgreSQL port. Env: DB_PORT")
	pgDB := fs.String("pg-db", envString("DB_NAME", def.Postgres.Database), "PostgreSQL database. Env: DB_NAME")
	pgUser := fs.String("pg-user", envString("DB_USER", def.Postgres.User), "PostgreSQL user. Env: DB_USER")
	pgPass := fs.String("pg-pass", envString("DB_PASS", def.Postgres.Password), "PostgreSQL password. Env: DB_PASS")

	chHost := fs.String("ch-host", envString("CLICKHOUSE_HOST", ""), "ClickHouse host (empty disables the mirror). Env: CLICKHOUSE_HOST")
	chPort := fs.Int("ch-port", envInt("CLICKHOUSE_PORT", def.ClickHouse.Port), "ClickHouse port. Env: CLICKHOUSE_PORT")
	chDB := fs.String("ch-db", envString("CLICKHOUSE_DB", def.ClickHouse.Database), "ClickHouse database. Env: CLICKHOUSE_DB")
	chUser := fs.String("ch-user", envString("CLICKHOUSE_USER", def.ClickHouse.User), "ClickHouse user. Env: CLICKHOUSE_USER")
	chPass := fs.String("ch-pass", envString("CLICKHOUSE_PASSWORD", ""), "ClickHouse password. Env: CLICKHOUSE_PASSWORD")

	attempts := fs.Int("retry-attempts", envInt("RETRY_ATTEMPTS", def.MaxAttempts), "Connection retry attempts. Env: RETRY_ATTEMPTS")
	baseDelay := fs.Duration("retry-base-delay", envDuration("RETRY_BASE_DELAY", def.BaseDelay), "Base backoff delay. Env: RETRY_BASE_DELAY")

	return func() storage.Config {
		cfg := def
		cfg.Postgres = storage.PostgresConfig{
			Host: *pgHost, Port: *pgPort, Database: *pgDB, User: *pgUser, Password: *pgPass,
		}
		cfg.ClickHouse = storage.ClickHouseConfig{
			Host: *chHost, Port: *chPort, Database: *chDB, User: *chUser, Password: *chPass,
		}
		cfg.MaxAttempts = *attempts
		cfg.BaseDelay = *baseDelay
		return cfg
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the PostgreSQL pool under the retry policy and ensures
// the schema exists.
func openStore(ctx context.Context, cfg storage.Config) (*storage.PostgresDB, error) {
	r := storage.NewRetrier(cfg.MaxAttempts, cfg.BaseDelay)
	pg, err := storage.OpenPostgresRetry(ctx, cfg.Postgres, r)
	if err != nil {
		return nil, err
	}
	if err := pg.CreateSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func runScrape(args []string) {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	url := fs.String("url", envString("BOARD_URL", "https://www.lotnisko-chopina.pl/pl/odloty.html"), "Departures board URL. Env: BOARD_URL")
	airport := fs.String("airport", envString("AIRPORT", "chopin"), "Airport identifier written to every row. Env: AIRPORT")
	tzName := fs.String("timezone", envString("AIRPORT_TZ", "Europe/Warsaw"), "Airport-local timezone. Env: AIRPORT_TZ")
	pageTimeout := fs.Duration("page-timeout", envDuration("PAGE_TIMEOUT", 30*time.Second), "Wait for the board to appear. Env: PAGE_TIMEOUT")
	settleTimeout := fs.Duration("settle-timeout", envDuration("SETTLE_TIMEOUT", 8*time.Second), "Wait for new rows after a click. Env: SETTLE_TIMEOUT")
	runTimeout := fs.Duration("run-timeout", envDuration("RUN_TIMEOUT", 5*time.Minute), "Wall-clock budget per run. Env: RUN_TIMEOUT")
	debugPath := fs.String("debug-html", envString("DEBUG_HTML", "debug_page.html"), "Where to save markup when the board never appears. Env: DEBUG_HTML")
	interval := fs.Duration("interval", envDuration("SCRAPE_INTERVAL", 0), "Run periodically at this interval (0 = once). Env: SCRAPE_INTERVAL")
	journalPath := fs.String("journal", envString("RUN_JOURNAL", ""), "SQLite run journal path (empty disables). Env: RUN_JOURNAL")
	natsURL := fs.String("nats-url", envString("NATS_URL", ""), "NATS server for run events (empty disables). Env: NATS_URL")
	natsSubject := fs.String("nats-subject", envString("NATS_SUBJECT", events.DefaultSubject), "Run event subject. Env: NATS_SUBJECT")
	loadStorage := storageFlags(fs)
	_ = fs.Parse(args)

	loc, err := time.LoadLocation(*tzName)
	if err != nil {
		log.Fatalf("load timezone %q: %v", *tzName, err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	cfg := loadStorage()
	pg, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer pg.Close()

	page := scraper.NewHTTPPage(nil)
	ex := scraper.NewExtractor(page, scraper.Config{
		URL:           *url,
		Airport:       *airport,
		PageTimeout:   *pageTimeout,
		SettleTimeout: *settleTimeout,
		DebugPath:     *debugPath,
	})

	p := pipeline.New(ex, pg, loc, *airport)

	if *journalPath != "" {
		j, err := journal.Open(*journalPath)
		if err != nil {
			log.Fatalf("open run journal: %v", err)
		}
		defer func() { _ = j.Close() }()
		p.WithJournal(j)
	}

	pub, err := events.Connect(*natsURL, *natsSubject)
	if err != nil {
		log.Fatalf("connect nats: %v", err)
	}
	defer pub.Close()
	p.WithEvents(pub)

	if cfg.ClickHouse.Enabled() {
		ch, err := storage.OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			log.Fatalf("open analytics mirror: %v", err)
		}
		defer func() { _ = ch.Close() }()
		if err := ch.CreateSchema(ctx); err != nil {
			log.Fatalf("mirror schema: %v", err)
		}
		p.WithMirror(ch)
	}

	run := func() error {
		runCtx, cancelRun := context.WithTimeout(ctx, *runTimeout)
		defer cancelRun()
		_, err := p.RunOnce(runCtx)
		return err
	}

	if err := everyInterval(ctx, *interval, "scrape", run); err != nil {
		log.Fatalf("scrape: %v", err)
	}
}

func runAggregate(args []string) {
	fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
	tzName := fs.String("timezone", envString("AIRPORT_TZ", "Europe/Warsaw"), "Airport-local timezone for hour-of-day. Env: AIRPORT_TZ")
	interval := fs.Duration("interval", envDuration("AGGREGATE_INTERVAL", 0), "Run periodically at this interval (0 = once). Env: AGGREGATE_INTERVAL")
	journalPath := fs.String("journal", envString("RUN_JOURNAL", ""), "SQLite run journal path (empty disables). Env: RUN_JOURNAL")
	natsURL := fs.String("nats-url", envString("NATS_URL", ""), "NATS server for run events (empty disables). Env: NATS_URL")
	natsSubject := fs.String("nats-subject", envString("NATS_SUBJECT", events.DefaultSubject), "Run event subject. Env: NATS_SUBJECT")
	loadStorage := storageFlags(fs)
	_ = fs.Parse(args)

	loc, err := time.LoadLocation(*tzName)
	if err != nil {
		log.Fatalf("load timezone %q: %v", *tzName, err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	pg, err := openStore(ctx, loadStorage())
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer pg.Close()

	var j *journal.Journal
	if *journalPath != "" {
		j, err = journal.Open(*journalPath)
		if err != nil {
			log.Fatalf("open run journal: %v", err)
		}
		defer func() { _ = j.Close() }()
	}

	pub, err := events.Connect(*natsURL, *natsSubject)
	if err != nil {
		log.Fatalf("connect nats: %v", err)
	}
	defer pub.Close()

	agg := stats.NewAggregator(pg, loc)

	run := func() error {
		started := time.Now()
		_, err := agg.Recompute(ctx)

		status := "ok"
		msg := ""
		switch {
		case errors.Is(err, etl.ErrNoDataToAggregate):
			log.Printf("aggregate: %v, keeping previous statistics", err)
			status, err = "empty", nil
		case err != nil:
			status, msg = "failed", err.Error()
		}

		if j != nil {
			if _, jerr := j.Record(journal.Run{
				Kind: "aggregate", StartedAt: started, FinishedAt: time.Now(),
				Status: status, Error: msg,
			}); jerr != nil {
				log.Printf("aggregate: journal run: %v", jerr)
			}
		}
		if perr := pub.Publish(events.RunEvent{
			Kind: "aggregate", StartedAt: started, FinishedAt: time.Now(),
			Status: status, Error: msg,
		}); perr != nil {
			log.Printf("aggregate: publish run event: %v", perr)
		}
		return err
	}

	if err := everyInterval(ctx, *interval, "aggregate", run); err != nil {
		log.Fatalf("aggregate: %v", err)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", envInt("API_PORT", 8080), "HTTP listen port. Env: API_PORT")
	loadStorage := storageFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	pg, err := openStore(ctx, loadStorage())
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer pg.Close()

	server := api.NewStatsServer(pg, api.Config{Port: *port})
	if err := server.Run(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func runSchema(args []string) {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	loadStorage := storageFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	cfg := loadStorage()
	pg, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	pg.Close()

	if cfg.ClickHouse.Enabled() {
		ch, err := storage.OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			log.Fatalf("open analytics mirror: %v", err)
		}
		if err := ch.CreateSchema(ctx); err != nil {
			log.Fatalf("mirror schema: %v", err)
		}
		_ = ch.Close()
	}

	log.Printf("schemas ready")
}

// everyInterval runs fn once, then repeats on the interval until the context
// is cancelled. With a zero interval the first error is returned; in
// periodic mode failures are logged and the next tick tries again.
func everyInterval(ctx context.Context, interval time.Duration, name string, fn func() error) error {
	if interval <= 0 {
		return fn()
	}

	if err := fn(); err != nil {
		log.Printf("%s: %v", name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("%s: shutting down", name)
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				log.Printf("%s: %v", name, err)
			}
		}
	}
}
