package generic

import (
	"context"
	"strconv"
	"strings"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/modemd/atport"
	"github.com/modemd/internal/modemd/charset"
)

// registrationStates maps the <stat> of +CREG/+CGREG/+CEREG. SMS-only and
// CSFB-not-preferred registrations count as registered; emergency-only
// does not.
var registrationStates = map[int]mm.RegistrationState{
	0:  mm.RegistrationIdle,
	1:  mm.RegistrationHome,
	2:  mm.RegistrationSearching,
	3:  mm.RegistrationDenied,
	4:  mm.RegistrationUnknown,
	5:  mm.RegistrationRoaming,
	6:  mm.RegistrationHome,
	7:  mm.RegistrationRoaming,
	8:  mm.RegistrationIdle,
	9:  mm.RegistrationHome,
	10: mm.RegistrationRoaming,
}

// accessTechs maps the <AcT> field.
var accessTechs = map[int]mm.AccessTechnology{
	0:  mm.AccessTechGsm,
	1:  mm.AccessTechGsmCompact,
	2:  mm.AccessTechUmts,
	3:  mm.AccessTechEdge,
	4:  mm.AccessTechHsdpa,
	5:  mm.AccessTechHsupa,
	6:  mm.AccessTechHspa,
	7:  mm.AccessTechLte,
	8:  mm.AccessTechGsm,
	9:  mm.AccessTechLte,
	10: mm.AccessTechLte,
	11: mm.AccessTech5gnr,
	12: mm.AccessTech5gnr,
	13: mm.AccessTechLte | mm.AccessTech5gnr,
}

// isUnsolicitedRegistration tells a report (<stat>[,<lac>,...]) from a
// query reply (<n>,<stat>[,...]). Reports carry one field or a quoted
// location area as their second field.
func isUnsolicitedRegistration(line string) bool {
	_, payload, _ := strings.Cut(line, ":")
	raw := strings.Split(payload, ",")
	return len(raw) == 1 || strings.HasPrefix(strings.TrimSpace(raw[1]), `"`)
}

// parseRegistration parses a +CREG/+CGREG/+CEREG payload. Query replies
// lead with the <n> setting, which is skipped.
func parseRegistration(payload string, query bool) (mm.RegistrationReading, error) {
	fields := atport.Fields(payload)
	if query {
		if len(fields) < 2 {
			return mm.RegistrationReading{}, mm.Errorf(mm.KindFailed, "short registration reply %q", payload)
		}
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return mm.RegistrationReading{}, mm.Errorf(mm.KindFailed, "empty registration reply")
	}

	stat, err := strconv.Atoi(fields[0])
	if err != nil {
		return mm.RegistrationReading{}, mm.Errorf(mm.KindFailed, "invalid registration status %q", fields[0])
	}
	state, ok := registrationStates[stat]
	if !ok {
		state = mm.RegistrationUnknown
	}
	r := mm.RegistrationReading{State: state, AccessTech: mm.AccessTechUnknown}
	if len(fields) >= 4 {
		if act, err := strconv.Atoi(fields[3]); err == nil {
			r.AccessTech = accessTechs[act]
		}
	}
	return r, nil
}

// combinePS merges the GPRS and EPS readings into one packet-switched
// view. A registered EPS reading wins; on LTE-only networks +CGREG keeps
// reporting "not registered".
func combinePS(gprs, eps mm.RegistrationReading) mm.RegistrationReading {
	switch {
	case eps.State.Registered():
		return eps
	case gprs.State.Registered():
		return gprs
	case eps.State == mm.RegistrationSearching || eps.State == mm.RegistrationDenied:
		return eps
	}
	return gprs
}

var unknownReading = mm.RegistrationReading{State: mm.RegistrationUnknown}

// SetupUnsolicitedRegistration installs handlers for registration reports
// and remembers n for indicator reports.
func (d *Driver) SetupUnsolicitedRegistration(_ context.Context, n mm.Notifier) error {
	d.mu.Lock()
	d.notifier = n
	d.gprs, d.eps = unknownReading, unknownReading
	d.mu.Unlock()

	d.port.Handle(PrefixCREG, isUnsolicitedRegistration, d.handleRegistration(PrefixCREG))
	d.port.Handle(PrefixCGREG, isUnsolicitedRegistration, d.handleRegistration(PrefixCGREG))
	d.port.Handle(PrefixCEREG, isUnsolicitedRegistration, d.handleRegistration(PrefixCEREG))
	return nil
}

// CleanupUnsolicitedRegistration removes the handlers.
func (d *Driver) CleanupUnsolicitedRegistration(context.Context) error {
	for _, p := range []string{PrefixCREG, PrefixCGREG, PrefixCEREG} {
		d.port.Handle(p, nil, nil)
	}
	d.mu.Lock()
	d.notifier = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) handleRegistration(prefix string) func(string) {
	return func(line string) {
		payload, _ := atport.Strip(line, prefix)
		r, err := parseRegistration(payload, false)
		if err != nil {
			d.log.Debug("ignoring registration report", logging.Command(line), logging.Err(err))
			return
		}

		d.mu.Lock()
		n := d.notifier
		switch prefix {
		case PrefixCGREG:
			d.gprs = r
			r = combinePS(d.gprs, d.eps)
		case PrefixCEREG:
			d.eps = r
			r = combinePS(d.gprs, d.eps)
		}
		d.mu.Unlock()
		if n == nil {
			return
		}
		if prefix == PrefixCREG {
			n.UpdateCsRegistrationState(r.State, r.AccessTech)
		} else {
			n.UpdatePsRegistrationState(r.State, r.AccessTech)
		}
	}
}

// enableReports tries the verbose report mode first, then the basic one.
func (d *Driver) enableReports(ctx context.Context, cmd string) error {
	if _, err := d.port.Command(ctx, cmd+"=2"); err == nil {
		return nil
	} else if mm.KindOf(err) == mm.KindCancelled {
		return err
	}
	_, err := d.port.Command(ctx, cmd+"=1")
	return err
}

// SetupCsRegistration enables +CREG reports.
func (d *Driver) SetupCsRegistration(ctx context.Context) error {
	return d.enableReports(ctx, "AT+CREG")
}

// CleanupCsRegistration disables +CREG reports.
func (d *Driver) CleanupCsRegistration(ctx context.Context) error {
	_, err := d.port.Command(ctx, "AT+CREG=0")
	return err
}

// SetupPsRegistration enables +CGREG reports and, where supported, +CEREG.
func (d *Driver) SetupPsRegistration(ctx context.Context) error {
	if err := d.enableReports(ctx, "AT+CGREG"); err != nil {
		return err
	}
	if err := d.enableReports(ctx, "AT+CEREG"); err != nil {
		d.log.Debug("EPS registration reports not supported", logging.Err(err))
	}
	return nil
}

// CleanupPsRegistration disables +CGREG and +CEREG reports.
func (d *Driver) CleanupPsRegistration(ctx context.Context) error {
	_, err := d.port.Command(ctx, "AT+CGREG=0")
	_, _ = d.port.Command(ctx, "AT+CEREG=0")
	return err
}

func (d *Driver) queryRegistration(ctx context.Context, cmd, prefix string) (mm.RegistrationReading, error) {
	lines, err := d.port.Command(ctx, cmd)
	if err != nil {
		return unknownReading, err
	}
	payload, ok := atport.Find(lines, prefix)
	if !ok {
		return unknownReading, mm.Errorf(mm.KindFailed, "no %s in reply", prefix)
	}
	return parseRegistration(payload, true)
}

// RunCsRegistrationCheck queries AT+CREG?.
func (d *Driver) RunCsRegistrationCheck(ctx context.Context) (mm.RegistrationReading, error) {
	return d.queryRegistration(ctx, CREGQuery, PrefixCREG)
}

// RunPsRegistrationCheck queries AT+CGREG? and AT+CEREG?. Either one
// answering is enough.
func (d *Driver) RunPsRegistrationCheck(ctx context.Context) (mm.RegistrationReading, error) {
	gprs, gerr := d.queryRegistration(ctx, CGREGQuery, PrefixCGREG)
	if mm.KindOf(gerr) == mm.KindCancelled {
		return gprs, gerr
	}
	eps, eerr := d.queryRegistration(ctx, CEREGQuery, PrefixCEREG)
	if gerr != nil && eerr != nil {
		return unknownReading, gerr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if gerr == nil {
		d.gprs = gprs
	}
	if eerr == nil {
		d.eps = eps
	}
	return combinePS(d.gprs, d.eps), nil
}

// currentOperator selects the AT+COPS format and returns the <oper> field.
func (d *Driver) currentOperator(ctx context.Context, format string) (string, error) {
	if _, err := d.port.Command(ctx, format); err != nil {
		return "", err
	}
	lines, err := d.port.Command(ctx, COPSQuery)
	if err != nil {
		return "", err
	}
	payload, ok := atport.Find(lines, PrefixCOPS)
	if !ok {
		return "", mm.Errorf(mm.KindFailed, "unexpected AT+COPS? reply %q", strings.Join(lines, " "))
	}
	fields := atport.Fields(payload)
	if len(fields) < 3 || fields[2] == "" {
		return "", mm.Errorf(mm.KindNotFound, "no current operator")
	}
	return fields[2], nil
}

// LoadOperatorCode returns the MCC/MNC of the current operator.
func (d *Driver) LoadOperatorCode(ctx context.Context) (string, error) {
	code, err := d.currentOperator(ctx, COPSNumeric)
	if err != nil {
		return "", err
	}
	if (len(code) != 5 && len(code) != 6) || strings.Trim(code, "0123456789") != "" {
		return "", mm.Errorf(mm.KindFailed, "invalid operator code %q", code)
	}
	return code, nil
}

// LoadOperatorName returns the long alphanumeric operator name, decoded
// from the current charset.
func (d *Driver) LoadOperatorName(ctx context.Context) (string, error) {
	name, err := d.currentOperator(ctx, COPSAlpha)
	if err != nil {
		return "", err
	}
	return charset.DecodeLenient(d.currentCharset(), name), nil
}

// RegisterInNetwork selects operatorID manually, or automatic selection
// when it is empty.
func (d *Driver) RegisterInNetwork(ctx context.Context, operatorID string) error {
	cmd := COPSAutomatic
	if operatorID != "" {
		if strings.Trim(operatorID, "0123456789") != "" {
			return mm.Errorf(mm.KindInvalidArgs, "invalid operator id %q", operatorID)
		}
		cmd = "AT+COPS=1,2," + atport.Quote(operatorID)
	}
	_, err := d.port.CommandTimeout(ctx, cmd, d.cfg.RegisterTimeout)
	return err
}
