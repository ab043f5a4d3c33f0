package generic

import (
	"context"
	"math/bits"
	"strconv"
	"strings"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/modemd/atport"
)

// ws46Modes maps AT+WS46 network selections to mode masks.
var ws46Modes = map[int]mm.Mode{
	12: mm.Mode2G,
	22: mm.Mode3G,
	25: mm.Mode2G | mm.Mode3G | mm.Mode4G,
	28: mm.Mode4G,
	29: mm.Mode2G | mm.Mode3G,
	30: mm.Mode2G | mm.Mode4G,
	31: mm.Mode3G | mm.Mode4G,
	36: mm.Mode5G,
	37: mm.Mode4G | mm.Mode5G,
	38: mm.Mode3G | mm.Mode4G | mm.Mode5G,
}

func (d *Driver) supportedWS46(ctx context.Context) ([]int, error) {
	lines, err := d.port.Command(ctx, WS46Supported)
	if err != nil {
		return nil, err
	}
	payload, ok := atport.Find(lines, PrefixWS46)
	if !ok {
		return nil, mm.Errorf(mm.KindFailed, "unexpected AT+WS46=? reply %q", strings.Join(lines, " "))
	}
	var values []int
	for _, f := range atport.List(payload) {
		v, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		if _, known := ws46Modes[v]; known {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, mm.Errorf(mm.KindUnsupported, "no known network modes in %q", payload)
	}
	return values, nil
}

// LoadSupportedModes lists the AT+WS46 selections the modem accepts. The
// generic command set cannot express a preferred mode.
func (d *Driver) LoadSupportedModes(ctx context.Context) ([]mm.ModeCombination, error) {
	values, err := d.supportedWS46(ctx)
	if err != nil {
		return nil, err
	}
	combos := make([]mm.ModeCombination, 0, len(values))
	for _, v := range values {
		combos = append(combos, mm.ModeCombination{Allowed: ws46Modes[v], Preferred: mm.ModeNone})
	}
	return combos, nil
}

// SetAllowedModes selects the matching AT+WS46 value. ModeAny picks the
// widest selection the modem supports.
func (d *Driver) SetAllowedModes(ctx context.Context, allowed, preferred mm.Mode) error {
	if preferred != mm.ModeNone {
		return mm.Errorf(mm.KindUnsupported, "preferred mode cannot be set")
	}
	values, err := d.supportedWS46(ctx)
	if err != nil {
		return err
	}

	selected := -1
	for _, v := range values {
		m := ws46Modes[v]
		switch {
		case allowed == mm.ModeAny:
			if selected < 0 || bits.OnesCount32(uint32(m)) > bits.OnesCount32(uint32(ws46Modes[selected])) {
				selected = v
			}
		case m == allowed:
			selected = v
		}
	}
	if selected < 0 {
		return mm.Errorf(mm.KindUnsupported, "modes %s cannot be selected", allowed)
	}
	_, err = d.port.Command(ctx, "AT+WS46="+strconv.Itoa(selected))
	return err
}
