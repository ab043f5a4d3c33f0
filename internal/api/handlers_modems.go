package api

import (
	"net/http"
	"sort"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// ModemSummary is one row of the modem list
type ModemSummary struct {
	ID           string               `json:"id"`
	Driver       string               `json:"driver"`
	State        mm.State             `json:"state"`
	Registration mm.RegistrationState `json:"registration_state"`
	Signal       mm.SignalQuality     `json:"signal_quality"`
	Bearers      int                  `json:"bearers"`
}

// ListModemsHandler handles GET /api/modems
func (s *Server) ListModemsHandler(w http.ResponseWriter, r *http.Request) {
	modems := s.modems.List()
	sort.Slice(modems, func(i, j int) bool { return modems[i].ID() < modems[j].ID() })

	out := make([]ModemSummary, 0, len(modems))
	for _, m := range modems {
		st := m.Status()
		out = append(out, ModemSummary{
			ID:           st.ID,
			Driver:       st.Driver,
			State:        st.State,
			Registration: st.Registration,
			Signal:       st.SignalQuality,
			Bearers:      len(m.ListBearers()),
		})
	}
	WriteJSONSuccess(w, out)
}

// GetModemHandler handles GET /api/modems/{modemID}
func (s *Server) GetModemHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSONSuccess(w, modemFrom(r).Status())
}

// runCommand executes op against the request's modem and answers with the
// resulting status.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, name string, op func(m *mm.Modem) error) {
	m := modemFrom(r)
	if err := op(m); err != nil {
		s.log.Info("modem command failed", logging.Modem(m.ID()), "command", name, logging.Err(err))
		WriteModemError(w, err)
		return
	}
	s.log.Info("modem command completed", logging.Modem(m.ID()), "command", name)
	WriteJSONSuccess(w, m.Status())
}

// EnableHandler handles POST /api/modems/{modemID}/enable
func (s *Server) EnableHandler(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "enable", func(m *mm.Modem) error { return m.Enable(r.Context()) })
}

// DisableHandler handles POST /api/modems/{modemID}/disable
func (s *Server) DisableHandler(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "disable", func(m *mm.Modem) error { return m.Disable(r.Context()) })
}

// ResetHandler handles POST /api/modems/{modemID}/reset
func (s *Server) ResetHandler(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "reset", func(m *mm.Modem) error { return m.Reset(r.Context()) })
}

// FactoryResetRequest is the body of a factory reset
type FactoryResetRequest struct {
	Code string `json:"code"`
}

// FactoryResetHandler handles POST /api/modems/{modemID}/factory-reset
func (s *Server) FactoryResetHandler(w http.ResponseWriter, r *http.Request) {
	var req FactoryResetRequest
	if err := decodeBody(r, &req); err != nil {
		WriteModemError(w, err)
		return
	}
	s.runCommand(w, r, "factory-reset", func(m *mm.Modem) error { return m.FactoryReset(r.Context(), req.Code) })
}

// ReloadCapabilitiesHandler handles POST /api/modems/{modemID}/reload
func (s *Server) ReloadCapabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "reload", func(m *mm.Modem) error { return m.ReloadCapabilities(r.Context()) })
}

// PinRequest is the body of PIN and PUK entry
type PinRequest struct {
	Pin    string `json:"pin,omitempty"`
	Puk    string `json:"puk,omitempty"`
	NewPin string `json:"new_pin,omitempty"`
}

// SendPinHandler handles POST /api/modems/{modemID}/pin
func (s *Server) SendPinHandler(w http.ResponseWriter, r *http.Request) {
	var req PinRequest
	if err := decodeBody(r, &req); err != nil {
		WriteModemError(w, err)
		return
	}
	if req.Pin == "" {
		WriteModemError(w, mm.Errorf(mm.KindInvalidArgs, "pin is required"))
		return
	}
	s.runCommand(w, r, "send-pin", func(m *mm.Modem) error { return m.SendPin(r.Context(), req.Pin) })
}

// SendPukHandler handles POST /api/modems/{modemID}/puk
func (s *Server) SendPukHandler(w http.ResponseWriter, r *http.Request) {
	var req PinRequest
	if err := decodeBody(r, &req); err != nil {
		WriteModemError(w, err)
		return
	}
	if req.Puk == "" || req.NewPin == "" {
		WriteModemError(w, mm.Errorf(mm.KindInvalidArgs, "puk and new_pin are required"))
		return
	}
	s.runCommand(w, r, "send-puk", func(m *mm.Modem) error { return m.SendPuk(r.Context(), req.Puk, req.NewPin) })
}

// RegisterRequest selects the network; an empty operator_id registers
// automatically.
type RegisterRequest struct {
	OperatorID string `json:"operator_id"`
}

// RegisterHandler handles POST /api/modems/{modemID}/register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		WriteModemError(w, err)
		return
	}
	s.runCommand(w, r, "register", func(m *mm.Modem) error { return m.Register(r.Context(), req.OperatorID) })
}

// RegistrationCheckHandler handles POST /api/modems/{modemID}/registration-check
func (s *Server) RegistrationCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "registration-check", func(m *mm.Modem) error { return m.RunAllRegistrationChecks(r.Context()) })
}

// ModesRequest is the body of PUT /modes
type ModesRequest struct {
	Allowed   mm.Mode `json:"allowed"`
	Preferred mm.Mode `json:"preferred"`
}

// SetModesHandler handles PUT /api/modems/{modemID}/modes
func (s *Server) SetModesHandler(w http.ResponseWriter, r *http.Request) {
	var req ModesRequest
	if err := decodeBody(r, &req); err != nil {
		WriteModemError(w, err)
		return
	}
	s.runCommand(w, r, "set-modes", func(m *mm.Modem) error {
		return m.SetAllowedModes(r.Context(), req.Allowed, req.Preferred)
	})
}

// BandsRequest is the body of PUT /bands
type BandsRequest struct {
	Bands []mm.Band `json:"bands"`
}

// SetBandsHandler handles PUT /api/modems/{modemID}/bands
func (s *Server) SetBandsHandler(w http.ResponseWriter, r *http.Request) {
	var req BandsRequest
	if err := decodeBody(r, &req); err != nil {
		WriteModemError(w, err)
		return
	}
	if len(req.Bands) == 0 {
		WriteModemError(w, mm.Errorf(mm.KindInvalidArgs, "bands are required"))
		return
	}
	s.runCommand(w, r, "set-bands", func(m *mm.Modem) error { return m.SetAllowedBands(r.Context(), req.Bands) })
}
