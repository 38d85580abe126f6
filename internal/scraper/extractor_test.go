package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Zioo02/Airport-etl/internal/etl"
)

const today = "20260828"

// fakePage simulates an incrementally revealed departures board. Each click
// reveals the next batch from growth; the markup always reflects the rows
// currently visible.
type fakePage struct {
	navErr     error
	boardAbsent bool // WaitUntil for the board always times out
	emptyBoard bool // explicit "no departures" marker present

	rowsHTML []string // full set of revealable rows
	visible  int      // currently revealed rows
	growth   []int    // rows revealed per click
	clicks   int

	rowQueries int // FindElements calls for the row selector
}

func (p *fakePage) Navigate(context.Context, string) error {
	return p.navErr
}

func (p *fakePage) WaitUntil(_ context.Context, cond func() bool, _ time.Duration) error {
	if cond() {
		return nil
	}
	return errors.New("timeout")
}

func (p *fakePage) FindElements(selector string) ([]Element, error) {
	switch {
	case strings.Contains(selector, "empty") || strings.Contains(selector, "no-departures"):
		if p.emptyBoard {
			return make([]Element, 1), nil
		}
		return nil, nil
	case strings.Contains(selector, "more"):
		if p.boardAbsent {
			return nil, nil
		}
		return make([]Element, 1), nil
	case strings.Contains(selector, " tr"):
		if p.boardAbsent {
			return nil, nil
		}
		p.rowQueries++
		return make([]Element, p.visible), nil
	default: // table selector
		if p.boardAbsent {
			return nil, nil
		}
		return make([]Element, 1), nil
	}
}

func (p *fakePage) Click(Element) error {
	if p.clicks < len(p.growth) {
		p.visible += p.growth[p.clicks]
		if p.visible > len(p.rowsHTML) {
			p.visible = len(p.rowsHTML)
		}
	}
	p.clicks++
	return nil
}

func (p *fakePage) CurrentMarkup() (string, error) {
	var b strings.Builder
	b.WriteString(`<html><body><table class="flightboard departures">`)
	for _, row := range p.rowsHTML[:p.visible] {
		b.WriteString(row)
	}
	b.WriteString(`</table></body></html>`)
	return b.String(), nil
}

func boardRow(key, dest, flight, airline string) string {
	return fmt.Sprintf(
		`<tr class="tooltip" data-timesch="%s"><td>08:00</td><td>%s</td><td>%s</td><td>G12</td><td>%s</td></tr>`,
		key, dest, flight, airline)
}

func nRows(n int) []string {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = boardRow(fmt.Sprintf("%s%06d", today, i), "Oslo", fmt.Sprintf("LO%03d", i), "LOT")
	}
	return rows
}

func TestExtract_ConvergesWithinBound(t *testing.T) {
	const k = 4
	page := &fakePage{
		rowsHTML: nRows(2 + 2*k),
		visible:  2,
		growth:   []int{2, 2, 2, 2}, // stops growing after k clicks
	}
	ex := NewExtractor(page, Config{URL: "http://board.test"})

	res, err := ex.Extract(context.Background(), today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Converged {
		t.Error("expected convergence")
	}
	// Two-consecutive-equal-counts rule: at most one probing click past the
	// last growing one, and at most k+2 loop iterations overall.
	if res.Clicks > k+1 {
		t.Errorf("clicks = %d, want <= %d", res.Clicks, k+1)
	}
	if page.rowQueries > 2*(k+2) {
		t.Errorf("row count checks = %d, want <= %d", page.rowQueries, 2*(k+2))
	}
	if len(res.Candidates) != 2+2*k {
		t.Errorf("candidates = %d, want %d", len(res.Candidates), 2+2*k)
	}
}

func TestExtract_EmptyBoardIsZeroCandidates(t *testing.T) {
	page := &fakePage{emptyBoard: true}
	ex := NewExtractor(page, Config{URL: "http://board.test"})

	res, err := ex.Extract(context.Background(), today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(res.Candidates))
	}
	if page.clicks != 0 {
		t.Errorf("clicks = %d, want 0", page.clicks)
	}
}

func TestExtract_NavigationFailureIsFatal(t *testing.T) {
	page := &fakePage{navErr: errors.New("connection refused")}
	ex := NewExtractor(page, Config{URL: "http://board.test"})

	_, err := ex.Extract(context.Background(), today)
	if !errors.Is(err, etl.ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
}

func TestExtract_BoardTimeoutDegradesGracefully(t *testing.T) {
	debugPath := filepath.Join(t.TempDir(), "debug_page.html")
	page := &fakePage{
		boardAbsent: true,
		rowsHTML:    nRows(3),
		visible:     3,
	}
	ex := NewExtractor(page, Config{URL: "http://board.test", DebugPath: debugPath})

	res, err := ex.Extract(context.Background(), today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	// Whatever was rendered still gets parsed.
	if len(res.Candidates) != 3 {
		t.Errorf("candidates = %d, want 3", len(res.Candidates))
	}
	if _, err := os.Stat(debugPath); err != nil {
		t.Errorf("debug markup not written: %v", err)
	}
}

func TestExtract_SameDayFilterAndMalformedRows(t *testing.T) {
	rows := nRows(8)
	rows = append(rows,
		// Wrong day: excluded even though well-formed.
		boardRow("20260827120000", "Berlin", "LH100", "Lufthansa"),
		// Malformed: schedule token too short.
		boardRow("2026", "Paris", "AF200", "Air France"),
		// Malformed: not enough cells.
		`<tr class="tooltip" data-timesch="`+today+`235900"><td>23:59</td></tr>`,
	)
	page := &fakePage{rowsHTML: rows, visible: len(rows)}
	ex := NewExtractor(page, Config{URL: "http://board.test"})

	res, err := ex.Extract(context.Background(), today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Candidates) != 8 {
		t.Errorf("candidates = %d, want 8", len(res.Candidates))
	}
	if res.RowsSkipped != 3 {
		t.Errorf("skipped = %d, want 3", res.RowsSkipped)
	}
}

func TestExtract_AbsentTrailingCellsYieldEmptyAirline(t *testing.T) {
	row := `<tr class="tooltip" data-timesch="` + today + `101500">` +
		`<td>10:15</td><td>Madrid</td><td>IB500</td></tr>`
	page := &fakePage{rowsHTML: []string{row}, visible: 1}
	ex := NewExtractor(page, Config{URL: "http://board.test"})

	res, err := ex.Extract(context.Background(), today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(res.Candidates))
	}
	c := res.Candidates[0]
	if c.Destination != "Madrid" || c.FlightNumber != "IB500" {
		t.Errorf("candidate = %+v", c)
	}
	if c.Airline != "" {
		t.Errorf("airline = %q, want empty", c.Airline)
	}
}

func TestExtract_CancelledContextReturnsPartial(t *testing.T) {
	page := &fakePage{rowsHTML: nRows(20), visible: 2, growth: []int{2, 2, 2, 2, 2, 2, 2, 2, 2}}
	ex := NewExtractor(page, Config{URL: "http://board.test"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ex.Extract(ctx, today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The reveal loop aborts but the visible rows are still returned.
	if len(res.Candidates) != 2 {
		t.Errorf("candidates = %d, want 2", len(res.Candidates))
	}
}
