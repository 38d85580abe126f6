package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB wraps a PostgreSQL connection pool holding the raw departure
// log and the three derived statistics tables.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL and verifies it with a
// ping. Callers apply the retry policy around this.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// CreateSchema creates the PostgreSQL tables. Safe to call on every run;
// existing tables and their contents are never touched.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	-- Raw departure log. Append-only: one row per (airport, flight, schedule
	-- token) observation. scheduled_time carries the airport-local offset.
	CREATE TABLE IF NOT EXISTS flights_raw (
		airport         TEXT NOT NULL,
		flight_number   TEXT NOT NULL,
		destination     TEXT,
		airline         TEXT,
		scheduled_time  TIMESTAMPTZ,
		source_key      TEXT NOT NULL,
		created_at      TIMESTAMPTZ DEFAULT now(),
		PRIMARY KEY (airport, flight_number, source_key)
	);

	-- Derived tables, fully replaced each aggregation cycle.
	CREATE TABLE IF NOT EXISTS stats_top_destinations (
		destination TEXT,
		count       INTEGER
	);

	CREATE TABLE IF NOT EXISTS stats_busiest_airlines (
		airline TEXT,
		count   INTEGER
	);

	CREATE TABLE IF NOT EXISTS stats_hourly_traffic (
		hour          INTEGER,
		flights_count INTEGER
	);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertFlights appends the batch to flights_raw inside one transaction,
// silently skipping rows whose (airport, flight_number, source_key) already
// exist. It returns the number of rows actually inserted. An empty batch is
// a no-op. On any infrastructure failure the whole transaction rolls back.
func (d *PostgresDB) InsertFlights(ctx context.Context, flights []Flight) (int64, error) {
	if len(flights) == 0 {
		return 0, nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted int64
	for _, f := range flights {
		ct, err := tx.Exec(ctx, `
			INSERT INTO flights_raw (airport, flight_number, destination, airline, scheduled_time, source_key)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (airport, flight_number, source_key) DO NOTHING
		`, f.Airport, f.FlightNumber, f.Destination, f.Airline, f.ScheduledTime, f.SourceKey)
		if err != nil {
			return 0, fmt.Errorf("insert flight %s/%s: %w", f.FlightNumber, f.SourceKey, err)
		}
		inserted += ct.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

// ReadAllFlights returns the entire raw departure log.
func (d *PostgresDB) ReadAllFlights(ctx context.Context) ([]Flight, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT airport, flight_number, destination, airline, scheduled_time, source_key, created_at
		FROM flights_raw
	`)
	if err != nil {
		return nil, fmt.Errorf("read flights_raw: %w", err)
	}
	defer rows.Close()

	var flights []Flight
	for rows.Next() {
		var f Flight
		if err := rows.Scan(&f.Airport, &f.FlightNumber, &f.Destination, &f.Airline,
			&f.ScheduledTime, &f.SourceKey, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flights_raw: %w", err)
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// RecentFlights returns the newest raw rows by scheduled time, up to limit.
func (d *PostgresDB) RecentFlights(ctx context.Context, limit int) ([]Flight, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT airport, flight_number, destination, airline, scheduled_time, source_key, created_at
		FROM flights_raw
		ORDER BY scheduled_time DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read recent flights: %w", err)
	}
	defer rows.Close()

	var flights []Flight
	for rows.Next() {
		var f Flight
		if err := rows.Scan(&f.Airport, &f.FlightNumber, &f.Destination, &f.Airline,
			&f.ScheduledTime, &f.SourceKey, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent flights: %w", err)
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// ReadSummary computes the global metrics over the raw log.
func (d *PostgresDB) ReadSummary(ctx context.Context) (*Summary, error) {
	var s Summary
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT destination),
		       COUNT(DISTINCT airline),
		       MIN(scheduled_time),
		       MAX(scheduled_time)
		FROM flights_raw
	`).Scan(&s.TotalFlights, &s.DistinctDestinations, &s.DistinctAirlines,
		&s.FirstScheduled, &s.LastScheduled)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	return &s, nil
}

// ReplaceTopDestinations swaps the full contents of stats_top_destinations.
func (d *PostgresDB) ReplaceTopDestinations(ctx context.Context, stats []LabelCount) error {
	return d.replaceTable(ctx, "stats_top_destinations", func(tx pgx.Tx) error {
		for _, s := range stats {
			if _, err := tx.Exec(ctx,
				`INSERT INTO stats_top_destinations (destination, count) VALUES ($1, $2)`,
				s.Label, s.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceBusiestAirlines swaps the full contents of stats_busiest_airlines.
func (d *PostgresDB) ReplaceBusiestAirlines(ctx context.Context, stats []LabelCount) error {
	return d.replaceTable(ctx, "stats_busiest_airlines", func(tx pgx.Tx) error {
		for _, s := range stats {
			if _, err := tx.Exec(ctx,
				`INSERT INTO stats_busiest_airlines (airline, count) VALUES ($1, $2)`,
				s.Label, s.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceHourlyTraffic swaps the full contents of stats_hourly_traffic.
func (d *PostgresDB) ReplaceHourlyTraffic(ctx context.Context, stats []HourCount) error {
	return d.replaceTable(ctx, "stats_hourly_traffic", func(tx pgx.Tx) error {
		for _, s := range stats {
			if _, err := tx.Exec(ctx,
				`INSERT INTO stats_hourly_traffic (hour, flights_count) VALUES ($1, $2)`,
				s.Hour, s.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

// replaceTable truncates one derived table and refills it inside a single
// transaction. A failure rolls back and leaves the previous contents intact;
// each derived table gets its own transaction so one failed replace cannot
// corrupt the others.
func (d *PostgresDB) replaceTable(ctx context.Context, table string, fill func(pgx.Tx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "TRUNCATE "+table); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	if err := fill(tx); err != nil {
		return fmt.Errorf("refill %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace %s: %w", table, err)
	}
	return nil
}

// TopDestinations reads stats_top_destinations ordered by count.
func (d *PostgresDB) TopDestinations(ctx context.Context) ([]LabelCount, error) {
	return d.readLabelCounts(ctx,
		`SELECT destination, count FROM stats_top_destinations ORDER BY count DESC`)
}

// BusiestAirlines reads stats_busiest_airlines ordered by count.
func (d *PostgresDB) BusiestAirlines(ctx context.Context) ([]LabelCount, error) {
	return d.readLabelCounts(ctx,
		`SELECT airline, count FROM stats_busiest_airlines ORDER BY count DESC`)
}

// HourlyTraffic reads stats_hourly_traffic ordered by hour.
func (d *PostgresDB) HourlyTraffic(ctx context.Context) ([]HourCount, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT hour, flights_count FROM stats_hourly_traffic ORDER BY hour`)
	if err != nil {
		return nil, fmt.Errorf("read hourly traffic: %w", err)
	}
	defer rows.Close()

	var stats []HourCount
	for rows.Next() {
		var h HourCount
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, fmt.Errorf("scan hourly traffic: %w", err)
		}
		stats = append(stats, h)
	}
	return stats, rows.Err()
}

func (d *PostgresDB) readLabelCounts(ctx context.Context, query string) ([]LabelCount, error) {
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	defer rows.Close()

	var stats []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats = append(stats, lc)
	}
	return stats, rows.Err()
}
