package scraper

import (
	"strings"
	"time"

	"github.com/Zioo02/Airport-etl/internal/storage"
)

// sourceKeyLayout is the schedule token format: local date and time packed
// into fourteen digits.
const sourceKeyLayout = "20060102150405"

// Normalize turns candidates into storage-ready rows. It is pure: no I/O, no
// ordering guarantees (the storage key dedups, not position).
//
// Text fields are trimmed and empty strings become nulls. Rows without an
// airport, flight number, or a source key of at least eight characters are
// dropped. The leading date-time portion of the source key is parsed in the
// airport-local zone; a row whose token does not parse keeps a null scheduled
// time rather than being discarded.
func Normalize(candidates []Candidate, loc *time.Location) []storage.Flight {
	flights := make([]storage.Flight, 0, len(candidates))
	for _, c := range candidates {
		airport := strings.TrimSpace(c.Airport)
		flightNo := strings.TrimSpace(c.FlightNumber)
		key := strings.TrimSpace(c.SourceKey)
		if airport == "" || flightNo == "" || len(key) < 8 {
			continue
		}

		f := storage.Flight{
			Airport:      airport,
			FlightNumber: flightNo,
			Destination:  nullable(c.Destination),
			Airline:      nullable(c.Airline),
			SourceKey:    key,
		}
		if t, err := time.ParseInLocation(sourceKeyLayout, key, loc); err == nil {
			f.ScheduledTime = &t
		}
		flights = append(flights, f)
	}
	return flights
}

// nullable trims s and maps the empty string to nil.
func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
