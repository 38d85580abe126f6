package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings. An empty Host
// disables the analytics mirror entirely.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Enabled reports whether a mirror host has been configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// ClickHouseDB wraps a ClickHouse connection used as an optional append-only
// analytics mirror of the raw departure log. Postgres stays the source of
// truth; the mirror only receives copies of newly normalized rows.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the departures mirror table.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS departures (
		airport         LowCardinality(String),
		flight_number   LowCardinality(String),
		destination     LowCardinality(Nullable(String)),
		airline         LowCardinality(Nullable(String)),
		scheduled_time  Nullable(DateTime64(0)),
		source_key      String,
		observed_at     DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(observed_at)
	ORDER BY (airport, flight_number, source_key)
	SETTINGS index_granularity = 8192`

	if err := d.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertDepartures appends the batch to the mirror table. The mirror is not
// deduplicated; downstream analytics query the latest observation per key.
func (d *ClickHouseDB) InsertDepartures(ctx context.Context, flights []Flight) error {
	if len(flights) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO departures (airport, flight_number, destination, airline, scheduled_time, source_key)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, f := range flights {
		if err := batch.Append(f.Airport, f.FlightNumber, f.Destination, f.Airline,
			f.ScheduledTime, f.SourceKey); err != nil {
			return fmt.Errorf("append departure %s/%s: %w", f.FlightNumber, f.SourceKey, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
