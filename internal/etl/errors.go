// Package etl defines the error taxonomy shared by the scrape and
// aggregation cycles. Row-level problems are counted, not raised; only
// the conditions below abort a cycle.
package etl

import "errors"

var (
	// ErrExtractionFailed indicates the listing page never reached a usable
	// state. Fatal to the scrape run; the next scheduled run tries again.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrStoreUnavailable indicates the datastore could not be reached after
	// the retry budget was exhausted. Fatal to whichever cycle hit it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNoDataToAggregate indicates the raw table was empty or every row was
	// filtered out. Not a failure: derived tables keep their previous
	// contents.
	ErrNoDataToAggregate = errors.New("no data to aggregate")
)
