package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gigclock/internal/countdown"
	appLog "gigclock/internal/log"
	"gigclock/internal/tracker"
)

const keepaliveInterval = 15 * time.Second

// handleCountdown streams the countdown to the next event as Server-Sent
// Events. Each connection owns one countdown engine:
//
//	event: selection  {"username","found","event"}   on connect and on change
//	event: tick       {"days","hours","minutes","seconds","expired","display","target"}
//
// While no event is upcoming, a comment line is sent every keepaliveInterval
// so proxies keep the idle connection open.
//
// The engine is stopped when the client goes away, when the server closes,
// and before every retarget.
//
// GET /api/countdown?username=rj
func (s *Server) handleCountdown(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe first so a change racing the initial lookup is not lost.
	changes := s.hub.subscribe()
	defer s.hub.unsubscribe(changes)

	sel, ok := s.selection(w, r)
	if !ok {
		return
	}
	username := sel.Username

	ticks := make(chan countdown.Tick, 1)
	engine := countdown.NewEngine(s.clock, func(t countdown.Tick) {
		offerLatest(ticks, t)
	}, countdown.WithPeriod(s.period))
	defer engine.Deactivate()

	keepalive := s.clock.Ticker(keepaliveInterval)
	defer keepalive.Stop()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			appLog.Error("countdown stream: encode failed", err, "event", event)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	retarget := func(sel tracker.Selection) bool {
		engine.Deactivate()
		// Deactivate waited for the old schedule; whatever is buffered is stale.
		select {
		case <-ticks:
		default:
		}
		if !send("selection", toSelectionDTO(username, sel.Found, sel.Next)) {
			return false
		}
		if !sel.Found {
			return true
		}
		if err := engine.Activate(sel.Next.Start); err != nil {
			appLog.Error("countdown stream: activate failed", err, "username", username, "id", sel.Next.ID)
		}
		return true
	}

	appLog.Debug("countdown stream opened", "username", username, "remote", r.RemoteAddr)
	defer appLog.Debug("countdown stream closed", "username", username, "remote", r.RemoteAddr)

	if !retarget(sel) {
		return
	}

	current := sel
	// asked is set once the tracker was consulted after the target instant
	// itself passed. Earlier Expired ticks only mean under a second is left,
	// and the tracker still selects the same event then.
	asked := false
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-keepalive.C:
			// Ticks already keep the connection busy.
			if engine.Active() {
				continue
			}
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case next := <-changes:
			if next.Username != username || sameTarget(current, next) {
				continue
			}
			current, asked = next, false
			if !retarget(next) {
				return
			}
		case t := <-ticks:
			if !send("tick", toTickDTO(t)) {
				return
			}
			if !t.Remaining.Expired || asked {
				continue
			}
			asked = !t.Now.Before(t.Target)
			// The cached batch may already hold a later event.
			next, err := s.tracker.Get(r.Context(), username)
			if err != nil && next.Events == nil {
				appLog.Error("countdown stream: reselect failed", err, "username", username)
				continue
			}
			if !sameTarget(current, next) {
				current, asked = next, false
				if !retarget(next) {
					return
				}
			}
		}
	}
}

func sameTarget(a, b tracker.Selection) bool {
	if a.Found != b.Found {
		return false
	}
	return !a.Found || (a.Next.ID == b.Next.ID && a.Next.Start.Equal(b.Next.Start))
}
