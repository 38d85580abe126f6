package scraper

import (
	"testing"
	"time"
)

func TestNormalize_PartialRowResilience(t *testing.T) {
	candidates := make([]Candidate, 0, 10)
	for i := 0; i < 8; i++ {
		candidates = append(candidates, Candidate{
			Airport:      "chopin",
			Destination:  "Oslo",
			FlightNumber: "LO123",
			Airline:      "LOT",
			SourceKey:    "20260828080000",
		})
	}
	// Two malformed rows: short source key, missing flight number.
	candidates = append(candidates,
		Candidate{Airport: "chopin", FlightNumber: "LO1", SourceKey: "2026"},
		Candidate{Airport: "chopin", SourceKey: "20260828090000"},
	)

	flights := Normalize(candidates, time.UTC)
	if len(flights) != 8 {
		t.Errorf("normalized = %d records, want 8", len(flights))
	}
}

func TestNormalize_TrimsAndNulls(t *testing.T) {
	flights := Normalize([]Candidate{{
		Airport:      " chopin ",
		Destination:  "  Oslo  ",
		FlightNumber: " LO123 ",
		Airline:      "   ",
		SourceKey:    "20260828081500",
	}}, time.UTC)

	if len(flights) != 1 {
		t.Fatalf("normalized = %d records, want 1", len(flights))
	}
	f := flights[0]
	if f.Airport != "chopin" || f.FlightNumber != "LO123" {
		t.Errorf("identity not trimmed: %+v", f)
	}
	if f.Destination == nil || *f.Destination != "Oslo" {
		t.Errorf("Destination = %v, want Oslo", f.Destination)
	}
	if f.Airline != nil {
		t.Errorf("Airline = %v, want nil for blank cell", f.Airline)
	}
}

func TestNormalize_ScheduledTimeInAirportZone(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	flights := Normalize([]Candidate{{
		Airport:      "chopin",
		FlightNumber: "LO123",
		SourceKey:    "20260828143000",
	}}, warsaw)

	if len(flights) != 1 {
		t.Fatalf("normalized = %d records, want 1", len(flights))
	}
	got := flights[0].ScheduledTime
	if got == nil {
		t.Fatal("ScheduledTime = nil, want parsed value")
	}
	want := time.Date(2026, 8, 28, 14, 30, 0, 0, warsaw)
	if !got.Equal(want) {
		t.Errorf("ScheduledTime = %v, want %v", got, want)
	}
}

func TestNormalize_UnparseableTimeKeepsRow(t *testing.T) {
	flights := Normalize([]Candidate{{
		Airport:      "chopin",
		FlightNumber: "LO123",
		SourceKey:    "2026082xBADTIME",
	}}, time.UTC)

	if len(flights) != 1 {
		t.Fatalf("normalized = %d records, want 1 (partial data kept)", len(flights))
	}
	if flights[0].ScheduledTime != nil {
		t.Errorf("ScheduledTime = %v, want nil", flights[0].ScheduledTime)
	}
	if flights[0].SourceKey != "2026082xBADTIME" {
		t.Errorf("SourceKey = %q, token must survive untouched", flights[0].SourceKey)
	}
}
