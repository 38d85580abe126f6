// Package api provides the read-only REST surface the dashboard consumes:
// global metrics, the three derived statistics tables and recent raw rows.
// Nothing here writes to the store.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Zioo02/Airport-etl/internal/storage"
)

// Store is the read-only slice of the datastore the API serves from.
type Store interface {
	ReadSummary(ctx context.Context) (*storage.Summary, error)
	TopDestinations(ctx context.Context) ([]storage.LabelCount, error)
	BusiestAirlines(ctx context.Context) ([]storage.LabelCount, error)
	HourlyTraffic(ctx context.Context) ([]storage.HourCount, error)
	RecentFlights(ctx context.Context, limit int) ([]storage.Flight, error)
}

// StatsServer serves precomputed statistics and raw-log excerpts.
type StatsServer struct {
	store Store
	port  int
}

// Config holds configuration for the stats API server.
type Config struct {
	Port int
}

// NewStatsServer creates a stats API server over the given store.
func NewStatsServer(store Store, cfg Config) *StatsServer {
	return &StatsServer{store: store, port: cfg.Port}
}

// Run starts the HTTP server.
func (s *StatsServer) Run() error {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", s.Router())
	})

	addr := ":" + strconv.Itoa(s.port)
	log.Printf("Stats API starting at http://localhost%s", addr)
	return http.ListenAndServe(addr, r)
}

// Router returns the configured chi router for embedding in other servers.
func (s *StatsServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/summary", s.handleSummary)
	r.Get("/stats/destinations", s.handleDestinations)
	r.Get("/stats/airlines", s.handleAirlines)
	r.Get("/stats/hourly", s.handleHourly)
	r.Get("/flights/recent", s.handleRecentFlights)

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *StatsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// SummaryResponse is the JSON shape of the global metrics.
type SummaryResponse struct {
	TotalFlights         int64  `json:"total_flights"`
	DistinctDestinations int64  `json:"distinct_destinations"`
	DistinctAirlines     int64  `json:"distinct_airlines"`
	FirstFlight          string `json:"first_flight,omitempty"`
	LastFlight           string `json:"last_flight,omitempty"`
}

func (s *StatsServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.ReadSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := SummaryResponse{
		TotalFlights:         sum.TotalFlights,
		DistinctDestinations: sum.DistinctDestinations,
		DistinctAirlines:     sum.DistinctAirlines,
	}
	if sum.FirstScheduled != nil {
		resp.FirstFlight = sum.FirstScheduled.Format(time.RFC3339)
	}
	if sum.LastScheduled != nil {
		resp.LastFlight = sum.LastScheduled.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// LabelCountResponse is one ranked statistics entry.
type LabelCountResponse struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func (s *StatsServer) handleDestinations(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TopDestinations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLabelCounts(stats))
}

func (s *StatsServer) handleAirlines(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.BusiestAirlines(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLabelCounts(stats))
}

func toLabelCounts(stats []storage.LabelCount) []LabelCountResponse {
	out := make([]LabelCountResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, LabelCountResponse{Label: s.Label, Count: s.Count})
	}
	return out
}

// HourCountResponse is one hourly-traffic entry.
type HourCountResponse struct {
	Hour  int `json:"hour"`
	Count int `json:"flights_count"`
}

func (s *StatsServer) handleHourly(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.HourlyTraffic(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]HourCountResponse, 0, len(stats))
	for _, h := range stats {
		out = append(out, HourCountResponse{Hour: h.Hour, Count: h.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

// FlightResponse is one raw departure row.
type FlightResponse struct {
	Airport       string `json:"airport"`
	FlightNumber  string `json:"flight_number"`
	Destination   string `json:"destination,omitempty"`
	Airline       string `json:"airline,omitempty"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	CreatedAt     string `json:"created_at"`
}

const (
	defaultRecentLimit = 1000
	maxRecentLimit     = 5000
)

func (s *StatsServer) handleRecentFlights(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	flights, err := s.store.RecentFlights(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]FlightResponse, 0, len(flights))
	for _, f := range flights {
		fr := FlightResponse{
			Airport:      f.Airport,
			FlightNumber: f.FlightNumber,
			CreatedAt:    f.CreatedAt.Format(time.RFC3339),
		}
		if f.Destination != nil {
			fr.Destination = *f.Destination
		}
		if f.Airline != nil {
			fr.Airline = *f.Airline
		}
		if f.ScheduledTime != nil {
			fr.ScheduledTime = f.ScheduledTime.Format(time.RFC3339)
		}
		out = append(out, fr)
	}
	writeJSON(w, http.StatusOK, out)
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
