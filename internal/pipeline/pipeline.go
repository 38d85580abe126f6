// Package pipeline wires one scrape cycle together: extract the departures
// board, normalize the candidates and persist them. It shares no state with
// the aggregation cycle; the two meet only in the raw table.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Zioo02/Airport-etl/internal/events"
	"github.com/Zioo02/Airport-etl/internal/journal"
	"github.com/Zioo02/Airport-etl/internal/scraper"
	"github.com/Zioo02/Airport-etl/internal/storage"
)

// Extractor is the slice of the scraper the pipeline drives.
type Extractor interface {
	Extract(ctx context.Context, todayMarker string) (*scraper.Result, error)
}

// Sink persists normalized rows, skipping already-observed departures.
type Sink interface {
	InsertFlights(ctx context.Context, flights []storage.Flight) (int64, error)
}

// Mirror receives best-effort copies of normalized rows for analytics.
type Mirror interface {
	InsertDepartures(ctx context.Context, flights []storage.Flight) error
}

// Pipeline runs scrape cycles. Journal, events and mirror are optional and
// may be nil.
type Pipeline struct {
	extractor Extractor
	sink      Sink
	mirror    Mirror
	journal   *journal.Journal
	events    *events.Publisher
	loc       *time.Location
	airport   string
}

// New creates a pipeline for the given airport and local timezone.
func New(extractor Extractor, sink Sink, loc *time.Location, airport string) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		sink:      sink,
		loc:       loc,
		airport:   airport,
	}
}

// WithJournal attaches a local run journal.
func (p *Pipeline) WithJournal(j *journal.Journal) *Pipeline {
	p.journal = j
	return p
}

// WithEvents attaches a run-event publisher.
func (p *Pipeline) WithEvents(pub *events.Publisher) *Pipeline {
	p.events = pub
	return p
}

// WithMirror attaches an analytics mirror.
func (p *Pipeline) WithMirror(m Mirror) *Pipeline {
	p.mirror = m
	return p
}

// Summary holds the counters of one finished scrape cycle.
type Summary struct {
	RowsSeen     int
	RowsSkipped  int
	Normalized   int
	Inserted     int64
	Converged    bool
	TimedOut     bool
}

// RunOnce executes one scrape cycle: harvest today's board, normalize and
// persist. The outcome is journalled and published regardless of success; a
// failed run surfaces its error and the next scheduled run starts clean.
func (p *Pipeline) RunOnce(ctx context.Context) (*Summary, error) {
	started := time.Now()
	marker := started.In(p.loc).Format("20060102")

	res, err := p.extractor.Extract(ctx, marker)
	if err != nil {
		p.finish(journal.Run{
			Kind: "scrape", StartedAt: started, FinishedAt: time.Now(),
			Status: "failed", Error: err.Error(),
		})
		return nil, err
	}

	flights := scraper.Normalize(res.Candidates, p.loc)

	sum := &Summary{
		RowsSeen:    res.RowsSeen,
		RowsSkipped: res.RowsSkipped + (len(res.Candidates) - len(flights)),
		Normalized:  len(flights),
		Converged:   res.Converged,
		TimedOut:    res.TimedOut,
	}

	if len(flights) == 0 {
		log.Printf("pipeline: no departures for %s, nothing to persist", marker)
		p.finish(journal.Run{
			Kind: "scrape", StartedAt: started, FinishedAt: time.Now(),
			RowsSeen: sum.RowsSeen, RowsSkipped: sum.RowsSkipped, Status: "empty",
		})
		return sum, nil
	}

	inserted, err := p.sink.InsertFlights(ctx, flights)
	if err != nil {
		p.finish(journal.Run{
			Kind: "scrape", StartedAt: started, FinishedAt: time.Now(),
			RowsSeen: sum.RowsSeen, RowsSkipped: sum.RowsSkipped,
			Status: "failed", Error: err.Error(),
		})
		return nil, fmt.Errorf("persist batch: %w", err)
	}
	sum.Inserted = inserted

	// The mirror never fails the run.
	if p.mirror != nil {
		if err := p.mirror.InsertDepartures(ctx, flights); err != nil {
			log.Printf("pipeline: analytics mirror insert: %v", err)
		}
	}

	log.Printf("pipeline: %d normalized, %d inserted (%d already known)",
		sum.Normalized, inserted, int64(sum.Normalized)-inserted)

	p.finish(journal.Run{
		Kind: "scrape", StartedAt: started, FinishedAt: time.Now(),
		RowsSeen: sum.RowsSeen, RowsSkipped: sum.RowsSkipped,
		RowsInserted: int(inserted), Status: "ok",
	})
	return sum, nil
}

// finish journals and publishes one run outcome. Both are best-effort.
func (p *Pipeline) finish(run journal.Run) {
	if p.journal != nil {
		if _, err := p.journal.Record(run); err != nil {
			log.Printf("pipeline: journal run: %v", err)
		}
	}
	if err := p.events.Publish(events.RunEvent{
		Kind:         run.Kind,
		Airport:      p.airport,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		RowsSeen:     run.RowsSeen,
		RowsSkipped:  run.RowsSkipped,
		RowsInserted: run.RowsInserted,
		Status:       run.Status,
		Error:        run.Error,
	}); err != nil {
		log.Printf("pipeline: publish run event: %v", err)
	}
}
