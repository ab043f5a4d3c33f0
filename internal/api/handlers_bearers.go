package api

import (
	"net/http"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// CreateBearerRequest carries the bearer properties. Force removes a
// disconnected bearer when the list is full.
type CreateBearerRequest struct {
	APN          string      `json:"apn"`
	IPType       mm.IPFamily `json:"ip_type"`
	User         string      `json:"user"`
	Password     string      `json:"password"`
	Number       string      `json:"number"`
	AllowRoaming bool        `json:"allow_roaming"`
	Force        bool        `json:"force"`
}

// ListBearersHandler handles GET /api/modems/{modemID}/bearers
func (s *Server) ListBearersHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSONSuccess(w, modemFrom(r).ListBearers())
}

// CreateBearerHandler handles POST /api/modems/{modemID}/bearers
func (s *Server) CreateBearerHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateBearerRequest
	if err := decodeBody(r, &req); err != nil {
		WriteModemError(w, err)
		return
	}

	m := modemFrom(r)
	b, err := m.CreateBearer(r.Context(), mm.BearerProperties{
		APN:          req.APN,
		IPType:       req.IPType,
		User:         req.User,
		Password:     req.Password,
		Number:       req.Number,
		AllowRoaming: req.AllowRoaming,
	}, req.Force)
	if err != nil {
		s.log.Info("bearer creation failed", logging.Modem(m.ID()), logging.Err(err))
		WriteModemError(w, err)
		return
	}
	s.log.Info("bearer created", logging.Modem(m.ID()), logging.Bearer(b.ID()))
	WriteJSON(w, b.Info(), http.StatusCreated)
}

// GetBearerHandler handles GET /api/modems/{modemID}/bearers/{bearerID}
func (s *Server) GetBearerHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSONSuccess(w, bearerFrom(r).Info())
}

// DeleteBearerHandler handles DELETE /api/modems/{modemID}/bearers/{bearerID}
func (s *Server) DeleteBearerHandler(w http.ResponseWriter, r *http.Request) {
	m, b := modemFrom(r), bearerFrom(r)
	if err := m.DeleteBearer(r.Context(), b.ID()); err != nil {
		WriteModemError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConnectBearerHandler handles POST /api/modems/{modemID}/bearers/{bearerID}/connect
func (s *Server) ConnectBearerHandler(w http.ResponseWriter, r *http.Request) {
	b := bearerFrom(r)
	if err := b.Connect(r.Context()); err != nil {
		s.log.Info("bearer connect failed", logging.Modem(modemFrom(r).ID()), logging.Bearer(b.ID()), logging.Err(err))
		WriteModemError(w, err)
		return
	}
	WriteJSONSuccess(w, b.Info())
}

// DisconnectBearerHandler handles POST /api/modems/{modemID}/bearers/{bearerID}/disconnect
func (s *Server) DisconnectBearerHandler(w http.ResponseWriter, r *http.Request) {
	b := bearerFrom(r)
	if err := b.Disconnect(r.Context()); err != nil {
		WriteModemError(w, err)
		return
	}
	WriteJSONSuccess(w, b.Info())
}
