package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// LoggingMiddleware logs every request with its status and duration.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		args := logging.HTTP(r.Method, r.URL.Path, ww.Status())
		args = append(args,
			logging.Duration("elapsed", time.Since(start)),
			"request_id", middleware.GetReqID(r.Context()))
		if ww.Status() >= http.StatusInternalServerError {
			s.log.Warn("request failed", args...)
			return
		}
		s.log.Debug("request served", args...)
	})
}

// corsHandler wraps next with the configured CORS policy. Without
// configured origins next is returned unchanged.
func (s *Server) corsHandler(next http.Handler) http.Handler {
	if len(s.cfg.CORSOrigins) == 0 {
		return next
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	})
	return c.Handler(next)
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteJSONError writes a JSON error response.
func WriteJSONError(w http.ResponseWriter, message string, statusCode int) {
	WriteJSON(w, ErrorResponse{
		Error:  message,
		Status: statusCode,
		Time:   time.Now().UTC(),
	}, statusCode)
}

// WriteJSONSuccess writes a successful JSON response.
func WriteJSONSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, data, http.StatusOK)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string    `json:"error"`
	Kind   string    `json:"kind,omitempty"`
	Status int       `json:"status"`
	Time   time.Time `json:"time"`
}

// statusForKind maps modem error kinds to HTTP status codes.
var statusForKind = map[mm.ErrorKind]int{
	mm.KindFailed:         http.StatusInternalServerError,
	mm.KindWrongState:     http.StatusConflict,
	mm.KindUnsupported:    http.StatusNotImplemented,
	mm.KindTooMany:        http.StatusConflict,
	mm.KindCancelled:      http.StatusServiceUnavailable,
	mm.KindUnauthorized:   http.StatusForbidden,
	mm.KindInvalidArgs:    http.StatusBadRequest,
	mm.KindNotFound:       http.StatusNotFound,
	mm.KindSimNotInserted: http.StatusPreconditionFailed,
	mm.KindSimFailure:     http.StatusPreconditionFailed,
	mm.KindSimWrong:       http.StatusPreconditionFailed,
}

// WriteModemError writes err with the status matching its kind.
func WriteModemError(w http.ResponseWriter, err error) {
	kind := mm.KindOf(err)
	status, ok := statusForKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, ErrorResponse{
		Error:  err.Error(),
		Kind:   kind.String(),
		Status: status,
		Time:   time.Now().UTC(),
	}, status)
}
