// Package storage provides durable persistence for observed departures and
// the derived statistics tables.
package storage

import "time"

// Config holds database connection settings.
type Config struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig

	// Retry bounds applied to connection acquisition by both cycles.
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultConfig returns a configuration with default local development
// settings. The ClickHouse mirror is disabled until a host is set.
func DefaultConfig() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "etl_db",
			User:     "etl_user",
			Password: "etl_pass",
		},
		ClickHouse: ClickHouseConfig{
			Port:     9000,
			Database: "airport",
			User:     "default",
		},
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Flight is one observed departure. Destination, Airline and ScheduledTime
// are nullable: a partially parsed row is still worth keeping in the raw log.
type Flight struct {
	Airport       string
	FlightNumber  string
	Destination   *string
	Airline       *string
	ScheduledTime *time.Time
	SourceKey     string
	CreatedAt     time.Time // stamped by the store at insert time
}

// LabelCount is one ranked entry of a destination or airline statistic.
type LabelCount struct {
	Label string
	Count int
}

// HourCount is the number of departures scheduled within one hour of day.
type HourCount struct {
	Hour  int
	Count int
}

// Summary holds the global metrics shown at the top of the dashboard.
type Summary struct {
	TotalFlights         int64
	DistinctDestinations int64
	DistinctAirlines     int64
	FirstScheduled       *time.Time
	LastScheduled        *time.Time
}
