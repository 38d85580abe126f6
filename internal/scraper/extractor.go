package scraper

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Zioo02/Airport-etl/internal/etl"
)

// Candidate is one row extracted from the listing before normalization.
// Fields other than SourceKey may be empty.
type Candidate struct {
	Airport      string
	Destination  string
	FlightNumber string
	Airline      string
	SourceKey    string // raw schedule token (data-timesch), dedup anchor
}

// Column positions within a departures row. The board renders destination,
// flight number and carrier at fixed offsets; trailing cells may be absent.
const (
	colDestination = 1
	colFlight      = 2
	colAirline     = 4
)

// Config holds extractor settings. Zero values fall back to the documented
// defaults for the Chopin departures board.
type Config struct {
	URL     string
	Airport string

	TableSelector string // departures table
	RowSelector   string // rows counted during the reveal loop
	MoreSelector  string // "load more" control
	EmptySelector string // explicit "no departures" marker

	PageTimeout   time.Duration // wait for the board to appear
	SettleTimeout time.Duration // wait for new rows after a click

	// DebugPath, when set, receives the rendered markup if the board never
	// appears within PageTimeout.
	DebugPath string
}

func (c Config) withDefaults() Config {
	if c.Airport == "" {
		c.Airport = "chopin"
	}
	if c.TableSelector == "" {
		c.TableSelector = "table.flightboard.departures"
	}
	if c.RowSelector == "" {
		c.RowSelector = "table.flightboard.departures tr"
	}
	if c.MoreSelector == "" {
		c.MoreSelector = ".departures_more, .flightboard-more, .more"
	}
	if c.EmptySelector == "" {
		c.EmptySelector = ".flightboard-empty, .no-departures"
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 30 * time.Second
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 8 * time.Second
	}
	return c
}

// Result carries per-run extraction counters.
type Result struct {
	Candidates  []Candidate
	RowsSeen    int  // rows present in the final markup
	RowsSkipped int  // rows dropped (malformed or not matching today)
	Clicks      int  // reveal-more triggers issued
	Converged   bool // row count stable for two consecutive checks
	TimedOut    bool // board never appeared; partial markup was parsed
}

// Extractor reveals and parses the departures listing through a Page.
type Extractor struct {
	page Page
	cfg  Config
}

// NewExtractor creates an extractor over the given page capability.
func NewExtractor(page Page, cfg Config) *Extractor {
	return &Extractor{page: page, cfg: cfg.withDefaults()}
}

// revealState tracks convergence of the reveal-more loop. The loop ends once
// the row count has been stable for two consecutive checks.
type revealState int

const (
	growing revealState = iota
	stalledOnce
	converged
)

func (s revealState) advance(grew bool) revealState {
	if grew {
		return growing
	}
	switch s {
	case growing:
		return stalledOnce
	default:
		return converged
	}
}

// Extract navigates to the listing, triggers "load more" until the row count
// converges and parses the revealed rows. todayMarker is the schedule date
// (YYYYMMDD) rows must match; anything else is dropped.
//
// A page that never loads is fatal and wraps etl.ErrExtractionFailed. A board
// that never appears within the timeout degrades gracefully: whatever is
// rendered gets parsed. Individual malformed rows are skipped and counted.
func (e *Extractor) Extract(ctx context.Context, todayMarker string) (*Result, error) {
	if err := e.page.Navigate(ctx, e.cfg.URL); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %v", etl.ErrExtractionFailed, e.cfg.URL, err)
	}

	res := &Result{}

	// Wait for either the table or the reveal-more control.
	err := e.page.WaitUntil(ctx, func() bool {
		return e.count(e.cfg.TableSelector) > 0 || e.count(e.cfg.MoreSelector) > 0
	}, e.cfg.PageTimeout)
	if err != nil {
		res.TimedOut = true
		e.dumpMarkup()
		log.Printf("scraper: board not visible after %s, parsing partial markup", e.cfg.PageTimeout)
		return e.parse(res, todayMarker)
	}

	// An explicit empty-board marker means zero departures, not a failure.
	if e.count(e.cfg.EmptySelector) > 0 {
		res.Converged = true
		return res, nil
	}

	e.reveal(ctx, res)
	return e.parse(res, todayMarker)
}

// reveal clicks the "load more" control until the visible row count stops
// growing for two consecutive checks, the control disappears, or the context
// is cancelled.
func (e *Extractor) reveal(ctx context.Context, res *Result) {
	state := growing
	prev := -1

	for state != converged {
		if ctx.Err() != nil {
			log.Printf("scraper: run budget exceeded after %d clicks, keeping partial rows", res.Clicks)
			return
		}

		n := e.count(e.cfg.RowSelector)
		state = state.advance(n != prev)
		prev = n
		if state == converged {
			res.Converged = true
			return
		}

		more, err := e.page.FindElements(e.cfg.MoreSelector)
		if err != nil || len(more) == 0 {
			res.Converged = true
			return
		}
		if err := e.page.Click(more[0]); err != nil {
			res.Converged = true
			return
		}
		res.Clicks++

		// A settle timeout is not terminal on its own: the source may be
		// slow, so the loop gets one more measurement. It does count as a
		// stalled check, letting the two-consecutive-equal-counts rule
		// finish without an extra probing click.
		err = e.page.WaitUntil(ctx, func() bool {
			return e.count(e.cfg.RowSelector) > n
		}, e.cfg.SettleTimeout)
		if err != nil {
			state = state.advance(false)
		}
	}
	res.Converged = true
}

// parse reads the current markup and maps each revealed row to a Candidate.
func (e *Extractor) parse(res *Result, todayMarker string) (*Result, error) {
	markup, err := e.page.CurrentMarkup()
	if err != nil {
		return nil, fmt.Errorf("%w: read markup: %v", etl.ErrExtractionFailed, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: parse markup: %v", etl.ErrExtractionFailed, err)
	}

	// Prefer annotated rows; older board revisions omit the tooltip class.
	rows := doc.Find(e.cfg.TableSelector + " tr.tooltip")
	if rows.Length() == 0 {
		rows = doc.Find(e.cfg.TableSelector + " tr")
	}
	res.RowsSeen = rows.Length()

	rows.Each(func(_ int, row *goquery.Selection) {
		c, ok := e.parseRow(row, todayMarker)
		if !ok {
			res.RowsSkipped++
			return
		}
		res.Candidates = append(res.Candidates, c)
	})

	log.Printf("scraper: %d candidates for %s (rows=%d skipped=%d clicks=%d)",
		len(res.Candidates), todayMarker, res.RowsSeen, res.RowsSkipped, res.Clicks)
	return res, nil
}

// parseRow maps a single table row onto a Candidate. A row without a usable
// schedule token, with a non-matching date, or without enough cells is
// rejected; absent trailing cells only yield empty fields.
func (e *Extractor) parseRow(row *goquery.Selection, todayMarker string) (Candidate, bool) {
	key, ok := row.Attr("data-timesch")
	if !ok || len(key) < 8 {
		return Candidate{}, false
	}
	if key[:8] != todayMarker {
		return Candidate{}, false
	}

	cells := row.Find("td")
	if cells.Length() < 3 {
		return Candidate{}, false
	}

	c := Candidate{
		Airport:      e.cfg.Airport,
		Destination:  strings.TrimSpace(cells.Eq(colDestination).Text()),
		FlightNumber: strings.TrimSpace(cells.Eq(colFlight).Text()),
		SourceKey:    key,
	}
	if cells.Length() > colAirline {
		c.Airline = strings.TrimSpace(cells.Eq(colAirline).Text())
	}
	return c, true
}

// count returns the number of elements currently matching selector, or zero
// when the lookup fails.
func (e *Extractor) count(selector string) int {
	els, err := e.page.FindElements(selector)
	if err != nil {
		return 0
	}
	return len(els)
}

// dumpMarkup writes the current markup to the configured debug path so a
// failed wait can be inspected offline.
func (e *Extractor) dumpMarkup() {
	if e.cfg.DebugPath == "" {
		return
	}
	markup, err := e.page.CurrentMarkup()
	if err != nil {
		return
	}
	if err := os.WriteFile(e.cfg.DebugPath, []byte(markup), 0o644); err != nil {
		log.Printf("scraper: write debug markup: %v", err)
		return
	}
	log.Printf("scraper: rendered markup saved to %s", e.cfg.DebugPath)
}
