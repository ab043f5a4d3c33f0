package generic

import (
	"context"
	"strconv"
	"strings"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/modemd/atport"
)

// csqUnknown is the rssi reported while the modem has no measurement.
const csqUnknown = 99

// LoadSignalQuality reads AT+CSQ and scales rssi 0-31 to a percentage.
func (d *Driver) LoadSignalQuality(ctx context.Context) (uint, error) {
	lines, err := d.port.Command(ctx, CSQ)
	if err != nil {
		return 0, err
	}
	payload, ok := atport.Find(lines, PrefixCSQ)
	if !ok {
		return 0, mm.Errorf(mm.KindFailed, "unexpected AT+CSQ reply %q", strings.Join(lines, " "))
	}
	rssiField, _, _ := strings.Cut(payload, ",")
	rssi, err := strconv.Atoi(strings.TrimSpace(rssiField))
	if err != nil {
		return 0, mm.Errorf(mm.KindFailed, "invalid rssi %q", rssiField)
	}
	return rssiToQuality(rssi)
}

func rssiToQuality(rssi int) (uint, error) {
	switch {
	case rssi == csqUnknown:
		return 0, mm.Errorf(mm.KindFailed, "signal quality not known")
	case rssi < 0 || rssi > 31:
		return 0, mm.Errorf(mm.KindFailed, "rssi %d out of range", rssi)
	}
	return uint(rssi * 100 / 31), nil
}

// SetupIndicators finds the signal indicator in AT+CIND=?. Modems without
// one cannot report signal changes through +CIEV.
func (d *Driver) SetupIndicators(ctx context.Context) error {
	lines, err := d.port.Command(ctx, CINDSupported)
	if err != nil {
		return err
	}
	payload, ok := atport.Find(lines, PrefixCIND)
	if !ok {
		return mm.Errorf(mm.KindUnsupported, "no indicators reported")
	}
	idx := indicatorIndex(payload, "signal")
	if idx == 0 {
		return mm.Errorf(mm.KindUnsupported, "no signal indicator")
	}

	d.mu.Lock()
	d.signalInd = idx
	d.mu.Unlock()
	return nil
}

// indicatorIndex returns the 1-based position of name in a +CIND=? payload
// such as ("battchg",(0-5)),("signal",(0-5)), or 0 if it is missing.
func indicatorIndex(payload, name string) int {
	for i, f := range atport.Fields(payload) {
		f = strings.TrimSuffix(strings.TrimPrefix(f, "("), ")")
		ind, _, _ := strings.Cut(f, ",")
		if strings.EqualFold(strings.TrimSpace(ind), name) {
			return i + 1
		}
	}
	return 0
}

// EnableUnsolicitedEvents turns on +CIEV indicator reports and forwards the
// signal indicator (0-5) to the notifier.
func (d *Driver) EnableUnsolicitedEvents(ctx context.Context) error {
	d.port.Handle(PrefixCIEV, nil, d.handleIndicator)
	if _, err := d.port.Command(ctx, CMEREnable); err != nil {
		d.port.Handle(PrefixCIEV, nil, nil)
		return err
	}
	return nil
}

// DisableUnsolicitedEvents turns indicator reports off.
func (d *Driver) DisableUnsolicitedEvents(ctx context.Context) error {
	d.port.Handle(PrefixCIEV, nil, nil)
	_, err := d.port.Command(ctx, CMERDisable)
	return err
}

func (d *Driver) handleIndicator(line string) {
	payload, _ := atport.Strip(line, PrefixCIEV)
	fields := atport.Fields(payload)
	if len(fields) != 2 {
		return
	}
	idx, err1 := strconv.Atoi(fields[0])
	value, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || value < 0 || value > 5 {
		return
	}

	d.mu.Lock()
	n, signal := d.notifier, d.signalInd
	d.mu.Unlock()
	if n == nil || idx != signal {
		return
	}
	n.UpdateSignalQuality(uint(value * 20))
}
