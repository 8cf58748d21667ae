// Package telemetrytest provides an in-process fake of the telemetry
// ingestion service for tests.
package telemetrytest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

const (
	DeviceToken = "device-token"
	DeviceID    = "device-1"
	Username    = "tenant@example.com"
	Password    = "secret"
)

// Server stores published telemetry in memory and serves it back.
// Null values are not stored, mirroring how the real service drops them.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	order     []string
	series    map[string][]point
	lastTS    int64
	published int
	logins    int
	callTimes []time.Time

	// FailPublish, when set, returns a status to force for the n-th publish
	// call (0-based); 0 means accept.
	FailPublish func(n int) int
}

type point struct {
	TS    int64  `json:"ts"`
	Value string `json:"value"`
}

// NewServer starts a fake service. Close it when done.
func NewServer() *Server {
	s := &Server{series: map[string][]point{}}

	r := chi.NewRouter()
	r.Post("/api/v1/{token}/telemetry", s.handlePublish)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/plugins/telemetry/DEVICE/{id}/keys/timeseries", s.authorized(s.handleKeys))
	r.Get("/api/plugins/telemetry/DEVICE/{id}/values/timeseries", s.authorized(s.handleValues))

	s.Server = httptest.NewServer(r)
	return s
}

// Published returns how many publish calls arrived, accepted or not.
func (s *Server) Published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// Logins returns how many successful logins happened.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// CallTimes returns the arrival time of every publish call.
func (s *Server) CallTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.callTimes...)
}

// Values returns the stored values for key, oldest first.
func (s *Server) Values(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.series[key]))
	for i, p := range s.series[key] {
		out[i] = p.Value
	}
	return out
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := s.published
	s.published++
	s.callTimes = append(s.callTimes, time.Now())
	s.mu.Unlock()

	if chi.URLParam(r, "token") != DeviceToken {
		http.Error(w, "invalid device token", http.StatusUnauthorized)
		return
	}
	if s.FailPublish != nil {
		if code := s.FailPublish(n); code != 0 {
			http.Error(w, "forced failure", code)
			return
		}
	}

	body, _ := io.ReadAll(r.Body)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	ts := time.Now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	for _, k := range keys {
		v := payload[k]
		if v == nil {
			continue
		}
		if _, ok := s.series[k]; !ok {
			s.order = append(s.order, k)
		}
		s.series[k] = append(s.series[k], point{TS: ts, Value: text(v)})
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username != Username || creds.Password != Password {
		http.Error(w, `{"message":"Invalid username or password"}`, http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	s.logins++
	s.mu.Unlock()
	writeJSON(w, map[string]string{"token": "jwt-token", "refreshToken": "refresh"})
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Authorization") != "Bearer jwt-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if chi.URLParam(r, "id") != DeviceID {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleKeys(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	keys := append([]string{}, s.order...)
	s.mu.Unlock()
	writeJSON(w, keys)
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startTs, _ := strconv.ParseInt(q.Get("startTs"), 10, 64)
	endTs, _ := strconv.ParseInt(q.Get("endTs"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	desc := q.Get("orderBy") != "ASC"

	s.mu.Lock()
	defer s.mu.Unlock()

	// Keys are written in request order; keys without points are omitted.
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, k := range strings.Split(q.Get("keys"), ",") {
		var pts []point
		for _, p := range s.series[k] {
			if p.TS >= startTs && p.TS <= endTs {
				pts = append(pts, p)
			}
		}
		if len(pts) == 0 {
			continue
		}
		if desc {
			for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
				pts[i], pts[j] = pts[j], pts[i]
			}
		}
		if len(pts) > limit {
			pts = pts[:limit]
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		name, _ := json.Marshal(k)
		vals, _ := json.Marshal(pts)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(vals)
	}
	buf.WriteByte('}')

	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
