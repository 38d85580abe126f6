// Package events publishes compact run summaries over NATS so operators and
// downstream consumers can watch the pipeline without polling the store.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject run events are published on.
const DefaultSubject = "airport.etl.runs"

// RunEvent summarises one finished cycle.
type RunEvent struct {
	Kind         string    `json:"kind"` // "scrape" or "aggregate"
	Airport      string    `json:"airport,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	RowsSeen     int       `json:"rows_seen,omitempty"`
	RowsSkipped  int       `json:"rows_skipped,omitempty"`
	RowsInserted int       `json:"rows_inserted,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// Publisher emits run events to a NATS subject. A nil Publisher is valid and
// drops every event, so callers do not need to guard the disabled case.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// Connect connects to the NATS server at url. An empty url disables
// publishing and returns a nil Publisher without error.
func Connect(url, subject string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if subject == "" {
		subject = DefaultSubject
	}

	nc, err := nats.Connect(url,
		nats.Name("airport-etl"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Publisher{nc: nc, subject: subject}, nil
}

// Publish sends one run event. Delivery is best-effort: the pipeline never
// fails because an event could not be published.
func (p *Publisher) Publish(ev RunEvent) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if err := p.nc.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	_ = p.nc.Drain()
}
