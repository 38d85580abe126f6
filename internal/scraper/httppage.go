package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrStaticPage is returned by HTTPPage.Click: a fetched document cannot be
// interacted with.
var ErrStaticPage = errors.New("static page: no interaction")

// HTTPPage is a Page over a plain HTTP fetch. It serves boards that render
// rows server-side and acts as the default capability when no browser
// engine is wired in; Click always fails, so the extractor settles for the
// rows present in the initial document.
type HTTPPage struct {
	client *http.Client
	markup string
	doc    *goquery.Document
}

// NewHTTPPage creates a static page capability. A nil client uses a default
// with a 60 second timeout.
func NewHTTPPage(client *http.Client) *HTTPPage {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPPage{client: client}
}

// Navigate fetches the URL and parses the response body.
func (p *HTTPPage) Navigate(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("parse body: %w", err)
	}

	p.markup = string(body)
	p.doc = doc
	return nil
}

// WaitUntil evaluates cond once: a fetched document never changes, so
// polling would only burn the timeout.
func (p *HTTPPage) WaitUntil(_ context.Context, cond func() bool, timeout time.Duration) error {
	if cond() {
		return nil
	}
	return fmt.Errorf("condition not met within %s (static page)", timeout)
}

// FindElements returns the nodes matching a CSS selector.
func (p *HTTPPage) FindElements(selector string) ([]Element, error) {
	if p.doc == nil {
		return nil, errors.New("no document loaded")
	}
	sel := p.doc.Find(selector)
	els := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		els = append(els, s)
	})
	return els, nil
}

// Click always fails on a static page.
func (p *HTTPPage) Click(Element) error {
	return ErrStaticPage
}

// CurrentMarkup returns the fetched document.
func (p *HTTPPage) CurrentMarkup() (string, error) {
	if p.doc == nil {
		return "", errors.New("no document loaded")
	}
	return p.markup, nil
}
