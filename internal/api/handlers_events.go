package api

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/modemd/internal/journal"
	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000

	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPing      = 30 * time.Second
)

// ListEventsHandler handles GET /api/events
//
// Query parameters: modem, type (repeatable or comma separated), after
// (sequence number) and limit.
func (s *Server) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, r.URL.Query().Get("modem"))
}

// ModemEventsHandler handles GET /api/modems/{modemID}/events
func (s *Server) ModemEventsHandler(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, modemFrom(r).ID())
}

// ClearModemEventsHandler handles DELETE /api/modems/{modemID}/events
func (s *Server) ClearModemEventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		WriteJSONError(w, "event journal is disabled", http.StatusNotFound)
		return
	}
	id := modemFrom(r).ID()
	if err := s.journal.Forget(id); err != nil {
		s.log.Error("failed to clear events", logging.Modem(id), logging.Err(err))
		WriteJSONError(w, "failed to clear events", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, modemID string) {
	if s.journal == nil {
		WriteJSONError(w, "event journal is disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	after, err := parseUintParam(query, "after")
	if err != nil {
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := s.journal.List(r.Context(), journal.Query{
		Modem: modemID,
		Types: parseListParam(query, "type"),
		After: after,
		Limit: parsePaginationLimit(query, defaultEventLimit, maxEventLimit),
	})
	if err != nil {
		s.log.Error("failed to list events", logging.Err(err))
		WriteJSONError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	WriteJSONSuccess(w, entries)
}

// GetEventHandler handles GET /api/events/{eventID}
func (s *Server) GetEventHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		WriteJSONError(w, "event journal is disabled", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "eventID")
	if _, err := uuid.Parse(id); err != nil {
		WriteJSONError(w, "invalid event id", http.StatusBadRequest)
		return
	}

	entry, err := s.journal.Get(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		WriteJSONError(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		WriteJSONError(w, "failed to load event", http.StatusInternalServerError)
		return
	}
	WriteJSONSuccess(w, entry)
}

// EventStreamHandler handles GET /api/events/stream. It upgrades to a
// websocket and sends every modem event as a JSON text message. The modem
// query parameter limits the stream to one modem. Events that arrive while
// the client is behind are dropped.
func (s *Server) EventStreamHandler(w http.ResponseWriter, r *http.Request) {
	modemID := r.URL.Query().Get("modem")
	types := make(map[string]bool)
	for _, t := range parseListParam(r.URL.Query(), "type") {
		types[t] = true
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	defer conn.Close()

	client := uuid.NewString()
	log := s.log.With("client", client, "remote", r.RemoteAddr)
	log.Info("event stream opened", logging.Modem(modemID))

	ch := make(chan mm.Event, streamBuffer)
	var dropped atomic.Uint64
	cancel := s.modems.Subscribe(func(ev mm.Event) {
		if modemID != "" && ev.ModemID != modemID {
			return
		}
		if len(types) > 0 && !types[ev.Type.String()] {
			return
		}
		select {
		case ch <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer cancel()

	// Reader: handles pongs and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	for {
		select {
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("event stream write failed", logging.Err(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			log.Info("event stream closed", "dropped", dropped.Load())
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}
