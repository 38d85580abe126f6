package stats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Zioo02/Airport-etl/internal/etl"
	"github.com/Zioo02/Airport-etl/internal/storage"
)

func mkFlight(dest, airline string, scheduled time.Time) storage.Flight {
	return storage.Flight{
		Airport:       "chopin",
		FlightNumber:  "LO123",
		Destination:   &dest,
		Airline:       &airline,
		ScheduledTime: &scheduled,
		SourceKey:     scheduled.Format("20060102150405"),
	}
}

func TestCompute_Determinism(t *testing.T) {
	loc := time.UTC
	flights := []storage.Flight{
		mkFlight("destX", "A", time.Date(2026, 8, 28, 8, 0, 0, 0, loc)),
		mkFlight("destX", "A", time.Date(2026, 8, 28, 8, 30, 0, 0, loc)),
		mkFlight("destY", "B", time.Date(2026, 8, 28, 9, 0, 0, 0, loc)),
	}

	d, err := Compute(flights, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantDest := []storage.LabelCount{{Label: "destX", Count: 2}, {Label: "destY", Count: 1}}
	if len(d.Destinations) != len(wantDest) {
		t.Fatalf("destinations = %d entries, want %d", len(d.Destinations), len(wantDest))
	}
	for i, w := range wantDest {
		if d.Destinations[i] != w {
			t.Errorf("destinations[%d] = %+v, want %+v", i, d.Destinations[i], w)
		}
	}

	wantAir := []storage.LabelCount{{Label: "A", Count: 2}, {Label: "B", Count: 1}}
	for i, w := range wantAir {
		if d.Airlines[i] != w {
			t.Errorf("airlines[%d] = %+v, want %+v", i, d.Airlines[i], w)
		}
	}

	wantHourly := []storage.HourCount{{Hour: 8, Count: 2}, {Hour: 9, Count: 1}}
	if len(d.Hourly) != len(wantHourly) {
		t.Fatalf("hourly = %d entries, want %d", len(d.Hourly), len(wantHourly))
	}
	for i, w := range wantHourly {
		if d.Hourly[i] != w {
			t.Errorf("hourly[%d] = %+v, want %+v", i, d.Hourly[i], w)
		}
	}
}

func TestCompute_DropsUnusableRows(t *testing.T) {
	loc := time.UTC
	scheduled := time.Date(2026, 8, 28, 10, 0, 0, 0, loc)
	dest := "OSL"

	flights := []storage.Flight{
		mkFlight("OSL", "SK", scheduled),
		{Airport: "chopin", FlightNumber: "SK1", Destination: &dest, ScheduledTime: &scheduled}, // no airline
		{Airport: "chopin", FlightNumber: "SK2", SourceKey: "20260828100000"},                   // no dest/airline/time
	}

	d, err := Compute(flights, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Destinations) != 1 || d.Destinations[0].Count != 1 {
		t.Errorf("destinations = %+v, want single OSL count 1", d.Destinations)
	}
}

func TestCompute_TopTenCutoff(t *testing.T) {
	loc := time.UTC
	var flights []storage.Flight
	for i := 0; i < 15; i++ {
		dest := fmt.Sprintf("dest%02d", i)
		// dest00 appears most often, descending from there.
		for j := 0; j <= 15-i; j++ {
			flights = append(flights, mkFlight(dest, "LO", time.Date(2026, 8, 28, 12, 0, 0, 0, loc)))
		}
	}

	d, err := Compute(flights, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Destinations) != 10 {
		t.Errorf("destinations = %d entries, want 10", len(d.Destinations))
	}
	if d.Destinations[0].Label != "dest00" {
		t.Errorf("top destination = %q, want dest00", d.Destinations[0].Label)
	}
	for i := 1; i < len(d.Destinations); i++ {
		if d.Destinations[i].Count > d.Destinations[i-1].Count {
			t.Errorf("destinations not ordered at %d: %+v", i, d.Destinations)
		}
	}
}

func TestCompute_TieBreakIsFirstSeen(t *testing.T) {
	loc := time.UTC
	at := time.Date(2026, 8, 28, 14, 0, 0, 0, loc)
	flights := []storage.Flight{
		mkFlight("AAA", "X", at),
		mkFlight("BBB", "Y", at),
		mkFlight("AAA", "X", at),
		mkFlight("BBB", "Y", at),
	}

	d, err := Compute(flights, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Destinations[0].Label != "AAA" || d.Destinations[1].Label != "BBB" {
		t.Errorf("tie-break order = %+v, want AAA then BBB", d.Destinations)
	}
}

func TestCompute_HourInAirportZone(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	// 06:15 UTC is 08:15 in Warsaw during CEST.
	utc := time.Date(2026, 8, 28, 6, 15, 0, 0, time.UTC)
	d, err := Compute([]storage.Flight{mkFlight("WAW", "LO", utc)}, warsaw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Hourly) != 1 || d.Hourly[0].Hour != 8 {
		t.Errorf("hourly = %+v, want hour 8", d.Hourly)
	}
}

// fakeStore records replace calls and can fail selected tables.
type fakeStore struct {
	flights []storage.Flight
	readErr error

	destCalls, airlineCalls, hourlyCalls int
	failDest                             bool
}

func (s *fakeStore) ReadAllFlights(context.Context) ([]storage.Flight, error) {
	return s.flights, s.readErr
}

func (s *fakeStore) ReplaceTopDestinations(context.Context, []storage.LabelCount) error {
	s.destCalls++
	if s.failDest {
		return errors.New("replace failed")
	}
	return nil
}

func (s *fakeStore) ReplaceBusiestAirlines(context.Context, []storage.LabelCount) error {
	s.airlineCalls++
	return nil
}

func (s *fakeStore) ReplaceHourlyTraffic(context.Context, []storage.HourCount) error {
	s.hourlyCalls++
	return nil
}

func TestRecompute_PreservesOnEmpty(t *testing.T) {
	store := &fakeStore{}
	agg := NewAggregator(store, time.UTC)

	_, err := agg.Recompute(context.Background())
	if !errors.Is(err, etl.ErrNoDataToAggregate) {
		t.Fatalf("err = %v, want ErrNoDataToAggregate", err)
	}
	if store.destCalls+store.airlineCalls+store.hourlyCalls != 0 {
		t.Errorf("derived tables were written on empty input")
	}
}

func TestRecompute_PreservesOnFullyFiltered(t *testing.T) {
	store := &fakeStore{flights: []storage.Flight{
		{Airport: "chopin", FlightNumber: "LO1", SourceKey: "20260828080000"},
	}}
	agg := NewAggregator(store, time.UTC)

	_, err := agg.Recompute(context.Background())
	if !errors.Is(err, etl.ErrNoDataToAggregate) {
		t.Fatalf("err = %v, want ErrNoDataToAggregate", err)
	}
	if store.destCalls+store.airlineCalls+store.hourlyCalls != 0 {
		t.Errorf("derived tables were written on fully filtered input")
	}
}

func TestRecompute_ReadFailureIsStoreUnavailable(t *testing.T) {
	store := &fakeStore{readErr: errors.New("connection reset")}
	agg := NewAggregator(store, time.UTC)

	_, err := agg.Recompute(context.Background())
	if !errors.Is(err, etl.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestRecompute_OneTableFailureDoesNotStopOthers(t *testing.T) {
	store := &fakeStore{
		flights:  []storage.Flight{mkFlight("OSL", "SK", time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))},
		failDest: true,
	}
	agg := NewAggregator(store, time.UTC)

	_, err := agg.Recompute(context.Background())
	if err == nil {
		t.Fatal("expected error from failed destinations replace")
	}
	if store.airlineCalls != 1 || store.hourlyCalls != 1 {
		t.Errorf("airlines=%d hourly=%d replaces, want 1 and 1", store.airlineCalls, store.hourlyCalls)
	}
}
