package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/modemd/internal/mm"
)

const maxBodyBytes = 64 << 10

// parseIntParam parses an integer parameter from query string.
// Returns 0 and false if the parameter doesn't exist or is invalid.
func parseIntParam(query url.Values, key string) (int, bool) {
	if val := query.Get(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n, true
		}
	}
	return 0, false
}

// parseUintParam parses an unsigned integer parameter from query string.
func parseUintParam(query url.Values, key string) (uint64, error) {
	val := query.Get(key)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, &ParamError{Param: key, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// parseBoolParam parses a boolean parameter from query string.
// Accepts: true/false, 1/0, yes/no (case-insensitive).
func parseBoolParam(query url.Values, key string) (bool, bool) {
	if val := query.Get(key); val != "" {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
		return false, true
	}
	return false, false
}

// parseListParam splits a comma separated parameter, accepting repeated keys.
func parseListParam(query url.Values, key string) []string {
	var out []string
	for _, val := range query[key] {
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parsePaginationLimit returns the limit parameter clamped to maxLimit.
func parsePaginationLimit(query url.Values, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if l, ok := parseIntParam(query, "limit"); ok && l > 0 {
		limit = l
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		if mm.KindOf(err) == mm.KindInvalidArgs {
			return err
		}
		return mm.Wrap(mm.KindInvalidArgs, err, "invalid request body")
	}
	return nil
}

// ParamError represents a parameter validation error
type ParamError struct {
	Param   string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Message)
}

type ctxKey int

const (
	modemKey ctxKey = iota
	bearerKey
)

// modemCtx resolves {modemID} and stores the modem in the request context.
func (s *Server) modemCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "modemID")
		m, ok := s.modems.Get(id)
		if !ok {
			WriteJSONError(w, fmt.Sprintf("modem %q not found", id), http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), modemKey, m)))
	})
}

// bearerCtx resolves {bearerID} on the modem from modemCtx.
func (s *Server) bearerCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := modemFrom(r).Bearer(chi.URLParam(r, "bearerID"))
		if err != nil {
			WriteModemError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bearerKey, b)))
	})
}

func modemFrom(r *http.Request) *mm.Modem {
	return r.Context().Value(modemKey).(*mm.Modem)
}

func bearerFrom(r *http.Request) *mm.Bearer {
	return r.Context().Value(bearerKey).(*mm.Bearer)
}
