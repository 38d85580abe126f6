// Package scraper harvests the departures listing of an airport web board.
// It drives a page-interaction capability to reveal every row of the
// incrementally loaded flight table, then parses the rendered markup into
// candidate records.
package scraper

import (
	"context"
	"time"
)

// Element is an opaque handle to a DOM element owned by the Page
// implementation.
type Element any

// Page is the page-interaction capability the extractor is driven against.
// Implementations own browser lifecycle, user-agent and overlay policy; the
// extractor only consumes these five operations.
type Page interface {
	// Navigate loads the given URL and blocks until the initial load
	// completes or fails.
	Navigate(ctx context.Context, url string) error

	// WaitUntil polls cond until it returns true or the timeout elapses.
	// A timeout is reported as an error; the page stays usable.
	WaitUntil(ctx context.Context, cond func() bool, timeout time.Duration) error

	// FindElements returns all elements matching a CSS selector.
	FindElements(selector string) ([]Element, error)

	// Click triggers a click on the element.
	Click(el Element) error

	// CurrentMarkup returns the current rendered HTML of the page.
	CurrentMarkup() (string, error)
}
