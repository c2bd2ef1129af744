// mock-gateway simulates the external messaging provider for local
// development and load testing: configurable outcome mix, latency and a
// forced-timeout mode.
package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"dispatch/internal/logging"
)

type config struct {
	Port        string  `envconfig:"PORT" default:"8090"`
	LogFormat   string  `envconfig:"LOG_FORMAT" default:"text"`
	SuccessRate float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	// Comma-separated code:weight pairs drawn for failures.
	FailureMixRaw string `envconfig:"MOCK_FAILURE_MIX" default:"invalid_destination:2,blocked:1,unavailable:1"`
	DelayMinMs    int    `envconfig:"MOCK_DELAY_MS_MIN" default:"0"`
	DelayMaxMs    int    `envconfig:"MOCK_DELAY_MS_MAX" default:"50"`
	// When > 0, every Nth request hangs past any sane client timeout.
	TimeoutEvery   int `envconfig:"MOCK_TIMEOUT_EVERY" default:"0"`
	TimeoutDelayMs int `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"30000"`
}

type failureCode struct {
	code   string
	weight int
}

type server struct {
	cfg      config
	failures []failureCode
	total    int

	mu  sync.Mutex
	rnd *rand.Rand

	requests atomic.Int64
}

type sendRequest struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaRef string `json:"mediaRef,omitempty"`
}

type sendResponse struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	logging.Init("mock-gateway", cfg.LogFormat)

	s := &server{
		cfg: cfg,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, pair := range strings.Split(cfg.FailureMixRaw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		fc := failureCode{code: parts[0], weight: 1}
		if len(parts) == 2 {
			if w, err := parseWeight(parts[1]); err == nil {
				fc.weight = w
			}
		}
		s.failures = append(s.failures, fc)
		s.total += fc.weight
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/messages", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	slog.Info("mock gateway listening", "port", cfg.Port, "success_rate", cfg.SuccessRate)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		slog.Error("mock gateway failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		writeJSON(w, http.StatusBadRequest, sendResponse{Code: "invalid_destination", Message: "missing destination"})
		return
	}

	if s.cfg.TimeoutEvery > 0 && n%int64(s.cfg.TimeoutEvery) == 0 {
		time.Sleep(time.Duration(s.cfg.TimeoutDelayMs) * time.Millisecond)
	}
	time.Sleep(s.latency())

	if s.roll() < s.cfg.SuccessRate {
		writeJSON(w, http.StatusCreated, sendResponse{ID: newID(n), Status: "sent"})
		return
	}

	code := s.pickFailure()
	switch code {
	case "invalid_destination":
		writeJSON(w, http.StatusBadRequest, sendResponse{Code: code, Message: "destination not reachable"})
	case "unavailable":
		writeJSON(w, http.StatusServiceUnavailable, sendResponse{Code: code, Message: "provider unavailable"})
	case "rate_limited":
		writeJSON(w, http.StatusTooManyRequests, sendResponse{Code: code, Message: "slow down"})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, sendResponse{Code: code, Message: "provider rejected message"})
	}
}

func (s *server) latency() time.Duration {
	if s.cfg.DelayMaxMs <= s.cfg.DelayMinMs {
		return time.Duration(s.cfg.DelayMinMs) * time.Millisecond
	}
	s.mu.Lock()
	ms := s.cfg.DelayMinMs + s.rnd.Intn(s.cfg.DelayMaxMs-s.cfg.DelayMinMs)
	s.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

func (s *server) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *server) pickFailure() string {
	if s.total == 0 {
		return "blocked"
	}
	s.mu.Lock()
	n := s.rnd.Intn(s.total)
	s.mu.Unlock()
	for _, fc := range s.failures {
		if n < fc.weight {
			return fc.code
		}
		n -= fc.weight
	}
	return s.failures[len(s.failures)-1].code
}

func parseWeight(raw string) (int, error) {
	w, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if w < 1 {
		w = 1
	}
	return w, nil
}

func writeJSON(w http.ResponseWriter, status int, body sendResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newID(n int64) string {
	return "mock_" + time.Now().UTC().Format("20060102150405") + "_" + strconv.FormatInt(n, 10)
}
