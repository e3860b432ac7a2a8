package web

import (
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"gigclock/internal/config"
	"gigclock/internal/countdown"
	appLog "gigclock/internal/log"
	"gigclock/internal/tracker"
)

// Server provides the countdown page and its JSON/SSE APIs.
type Server struct {
	cfg     *config.Config
	tracker *tracker.Tracker
	clock   clock.Clock
	mux     *http.ServeMux

	// period is the tick cadence of countdown streams.
	period time.Duration

	hub *hub

	// done is closed by Close to end long-lived streams.
	done      chan struct{}
	closeOnce sync.Once
}

// embeddedStatic contains the countdown page.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server. It subscribes to tr for selection
// changes, which are forwarded to open countdown streams.
func NewServer(cfg *config.Config, tr *tracker.Tracker, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	s := &Server{
		cfg:     cfg,
		tracker: tr,
		clock:   clk,
		mux:     http.NewServeMux(),
		period:  countdown.DefaultPeriod,
		hub:     newHub(),
		done:    make(chan struct{}),
	}
	if cfg != nil && cfg.CountdownPeriodMillis > 0 {
		s.period = time.Duration(cfg.CountdownPeriodMillis) * time.Millisecond
	}
	tr.OnChange(s.hub.publish)
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Close ends every open countdown stream. http.Server.Shutdown does not
// interrupt streaming responses, so register this with RegisterOnShutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean auth is off.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="GigClock", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/next", s.handleNext)
	s.mux.HandleFunc("/api/countdown", s.handleCountdown)
	s.mux.HandleFunc("/preview.png", s.handlePreview)

	// Everything else is the embedded countdown page.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded files from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown API paths must 404 rather than return HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// handlePreview serves the last snapshot written by the capture pipeline.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SnapshotPath == "" {
		http.NotFound(w, r)
		return
	}
	// http.ServeFile maps missing files to 404 and other failures to 500.
	http.ServeFile(w, r, s.cfg.SnapshotPath)
}

// selection resolves the username query parameter and writes an error
// response when no usable selection exists. A failed refresh with an
// earlier batch still available is served from that batch.
func (s *Server) selection(w http.ResponseWriter, r *http.Request) (tracker.Selection, bool) {
	username := r.URL.Query().Get("username")
	sel, err := s.tracker.Get(r.Context(), username)
	switch {
	case errors.Is(err, tracker.ErrNoUsername):
		writeError(w, http.StatusBadRequest, "no username given and none configured")
		return sel, false
	case err != nil && sel.Events == nil:
		appLog.Error("api: events unavailable", err, "username", sel.Username)
		writeError(w, http.StatusBadGateway, "failed to fetch events")
		return sel, false
	case err != nil:
		appLog.Error("api: serving previous batch", err, "username", sel.Username)
	}
	return sel, true
}

// handleEvents returns every record of the current batch.
//
// GET /api/events?username=rj
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.selection(w, r)
	if !ok {
		return
	}
	events := make([]eventDTO, 0, len(sel.Events))
	for _, ev := range sel.Events {
		events = append(events, toEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

// handleNext returns the selected event and the time left until it starts.
//
// GET /api/next?username=rj
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.selection(w, r)
	if !ok {
		return
	}

	resp := nextResponse{
		Username:     sel.Username,
		Found:        sel.Found,
		Upcoming:     make([]eventDTO, 0, len(sel.Upcoming)),
		MalformedIDs: sel.Malformed,
		FetchedAt:    sel.FetchedAt,
	}
	if resp.MalformedIDs == nil {
		resp.MalformedIDs = []string{}
	}
	if sel.Err != nil {
		resp.StaleError = sel.Err.Error()
	}
	for _, ev := range sel.Upcoming {
		resp.Upcoming = append(resp.Upcoming, toEventDTO(ev))
	}
	if sel.Found {
		dto := toEventDTO(sel.Next)
		rem := countdown.Compute(sel.Next.Start, s.clock.Now())
		resp.Event = &dto
		resp.Remaining = &rem
		resp.Display = rem.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// hub fans selection changes out to open streams.
type hub struct {
	mu   sync.Mutex
	subs map[chan tracker.Selection]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan tracker.Selection]struct{})}
}

func (h *hub) subscribe() chan tracker.Selection {
	ch := make(chan tracker.Selection, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan tracker.Selection) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// publish never blocks; a subscriber only ever needs the latest selection.
func (h *hub) publish(sel tracker.Selection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		offerLatest(ch, sel)
	}
}

// offerLatest puts v into a one-slot channel, replacing an unread value.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// nextResponse is the JSON response shape for /api/next.
type nextResponse struct {
	Username     string               `json:"username"`
	Found        bool                 `json:"found"`
	Event        *eventDTO            `json:"event"`
	Remaining    *countdown.Remaining `json:"remaining"`
	Display      string               `json:"display"`
	Upcoming     []eventDTO           `json:"upcoming"`
	MalformedIDs []string             `json:"malformed_ids"`
	FetchedAt    time.Time            `json:"fetched_at"`
	StaleError   string               `json:"stale_error,omitempty"`
}
