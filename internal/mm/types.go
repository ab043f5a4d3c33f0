// Package mm implements the modem state machine: initialization, the
// enable/disable sequences, 3GPP registration consolidation, bearer
// admission and lifecycle, unlock checking and signal quality monitoring.
//
// Hardware access goes through the capability interfaces declared in
// driver.go. A driver implements only the interfaces it supports; every
// optional step checks for the interface before calling it.
package mm

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the overall modem state. Values are ordered: a larger value
// means a "more active" modem.
type State int

const (
	StateFailed        State = -1
	StateUnknown       State = 0
	StateInitializing  State = 1
	StateLocked        State = 2
	StateDisabled      State = 3
	StateDisabling     State = 4
	StateEnabling      State = 5
	StateEnabled       State = 6
	StateSearching     State = 7
	StateRegistered    State = 8
	StateDisconnecting State = 9
	StateConnecting    State = 10
	StateConnected     State = 11
)

var stateNames = map[State]string{
	StateFailed:        "failed",
	StateUnknown:       "unknown",
	StateInitializing:  "initializing",
	StateLocked:        "locked",
	StateDisabled:      "disabled",
	StateDisabling:     "disabling",
	StateEnabling:      "enabling",
	StateEnabled:       "enabled",
	StateSearching:     "searching",
	StateRegistered:    "registered",
	StateDisconnecting: "disconnecting",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets states appear by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FailedReason explains why a modem sits in StateFailed.
type FailedReason int

const (
	FailedReasonNone FailedReason = iota
	FailedReasonUnknown
	FailedReasonSimMissing
	FailedReasonSimError
)

func (r FailedReason) String() string {
	switch r {
	case FailedReasonNone:
		return "none"
	case FailedReasonSimMissing:
		return "sim-missing"
	case FailedReasonSimError:
		return "sim-error"
	default:
		return "unknown"
	}
}

func (r FailedReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// StateChangeReason is attached to every state transition event.
type StateChangeReason int

const (
	ReasonUnknown StateChangeReason = iota
	ReasonUserRequested
	ReasonSuspend
	ReasonFailure
)

func (r StateChangeReason) String() string {
	switch r {
	case ReasonUserRequested:
		return "user-requested"
	case ReasonSuspend:
		return "suspend"
	case ReasonFailure:
		return "failure"
	default:
		return "unknown"
	}
}

func (r StateChangeReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Lock is the unlock code the SIM or device currently requires.
type Lock int

const (
	LockUnknown Lock = iota
	LockNone
	LockSimPin
	LockSimPin2
	LockSimPuk
	LockSimPuk2
	LockPhSpPin
	LockPhSpPuk
	LockPhNetPin
	LockPhNetPuk
	LockPhSimPin
	LockPhCorpPin
	LockPhCorpPuk
	LockPhFsimPin
	LockPhFsimPuk
	LockPhNetsubPin
	LockPhNetsubPuk
)

var lockNames = []string{
	"unknown", "none", "sim-pin", "sim-pin2", "sim-puk", "sim-puk2",
	"ph-sp-pin", "ph-sp-puk", "ph-net-pin", "ph-net-puk", "ph-sim-pin",
	"ph-corp-pin", "ph-corp-puk", "ph-fsim-pin", "ph-fsim-puk",
	"ph-netsub-pin", "ph-netsub-puk",
}

func (l Lock) String() string {
	if l >= 0 && int(l) < len(lockNames) {
		return lockNames[l]
	}
	return "unknown"
}

func (l Lock) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Blocking reports whether the lock prevents normal operation. SIM-PIN2 and
// SIM-PUK2 only guard a few SIM services and do not block.
func (l Lock) Blocking() bool {
	switch l {
	case LockNone, LockSimPin2, LockSimPuk2:
		return false
	}
	return true
}

// UnlockRetries holds the remaining attempts per lock kind.
type UnlockRetries map[Lock]uint

// Capability is a bitmask of radio technology families.
type Capability uint32

const (
	CapabilityNone        Capability = 0
	CapabilityPots        Capability = 1 << 0
	CapabilityCdmaEvdo    Capability = 1 << 1
	CapabilityGsmUmts     Capability = 1 << 2
	CapabilityLte         Capability = 1 << 3
	CapabilityLteAdvanced Capability = 1 << 4
)

// Is3gpp reports whether any 3GPP family is present.
func (c Capability) Is3gpp() bool {
	return c&(CapabilityGsmUmts|CapabilityLte|CapabilityLteAdvanced) != 0
}

// IsCdma reports whether the CDMA/EVDO family is present.
func (c Capability) IsCdma() bool {
	return c&CapabilityCdmaEvdo != 0
}

func (c Capability) String() string {
	if c == CapabilityNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  Capability
		name string
	}{
		{CapabilityPots, "pots"},
		{CapabilityCdmaEvdo, "cdma-evdo"},
		{CapabilityGsmUmts, "gsm-umts"},
		{CapabilityLte, "lte"},
		{CapabilityLteAdvanced, "lte-advanced"},
	} {
		if c&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ", ")
}

func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// AccessTechnology is a bitmask of radio access technologies in use.
type AccessTechnology uint32

const (
	AccessTechUnknown    AccessTechnology = 0
	AccessTechPots       AccessTechnology = 1 << 0
	AccessTechGsm        AccessTechnology = 1 << 1
	AccessTechGsmCompact AccessTechnology = 1 << 2
	AccessTechGprs       AccessTechnology = 1 << 3
	AccessTechEdge       AccessTechnology = 1 << 4
	AccessTechUmts       AccessTechnology = 1 << 5
	AccessTechHsdpa      AccessTechnology = 1 << 6
	AccessTechHsupa      AccessTechnology = 1 << 7
	AccessTechHspa       AccessTechnology = 1 << 8
	AccessTechHspaPlus   AccessTechnology = 1 << 9
	AccessTech1xrtt      AccessTechnology = 1 << 10
	AccessTechEvdo0      AccessTechnology = 1 << 11
	AccessTechEvdoA      AccessTechnology = 1 << 12
	AccessTechEvdoB      AccessTechnology = 1 << 13
	AccessTechLte        AccessTechnology = 1 << 14
	AccessTech5gnr       AccessTechnology = 1 << 15
)

// AccessTechAll3gpp covers every 3GPP access technology bit.
const AccessTechAll3gpp = AccessTechGsm | AccessTechGsmCompact | AccessTechGprs |
	AccessTechEdge | AccessTechUmts | AccessTechHsdpa | AccessTechHsupa |
	AccessTechHspa | AccessTechHspaPlus | AccessTechLte | AccessTech5gnr

var accessTechNames = []string{
	"pots", "gsm", "gsm-compact", "gprs", "edge", "umts", "hsdpa", "hsupa",
	"hspa", "hspa-plus", "1xrtt", "evdo0", "evdoa", "evdob", "lte", "5gnr",
}

func (a AccessTechnology) String() string {
	if a == AccessTechUnknown {
		return "unknown"
	}
	var parts []string
	for i, name := range accessTechNames {
		if a&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

func (a AccessTechnology) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// RegistrationState is a 3GPP network registration status.
type RegistrationState int

const (
	RegistrationIdle      RegistrationState = 0
	RegistrationHome      RegistrationState = 1
	RegistrationSearching RegistrationState = 2
	RegistrationDenied    RegistrationState = 3
	RegistrationUnknown   RegistrationState = 4
	RegistrationRoaming   RegistrationState = 5
)

func (r RegistrationState) String() string {
	switch r {
	case RegistrationIdle:
		return "idle"
	case RegistrationHome:
		return "home"
	case RegistrationSearching:
		return "searching"
	case RegistrationDenied:
		return "denied"
	case RegistrationRoaming:
		return "roaming"
	default:
		return "unknown"
	}
}

func (r RegistrationState) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Registered reports whether the state is home or roaming.
func (r RegistrationState) Registered() bool {
	return r == RegistrationHome || r == RegistrationRoaming
}

// Charset is a bitmask of modem character sets.
type Charset uint32

const (
	CharsetUnknown Charset = 0
	CharsetGSM     Charset = 1 << 0
	CharsetHEX     Charset = 1 << 1
	CharsetIRA     Charset = 1 << 2
	Charset8859_1  Charset = 1 << 3
	CharsetUTF8    Charset = 1 << 4
	CharsetUCS2    Charset = 1 << 5
	CharsetPCCP437 Charset = 1 << 6
	CharsetPCDN    Charset = 1 << 7
)

var charsetNames = []struct {
	cs   Charset
	name string
}{
	{CharsetGSM, "GSM"},
	{CharsetHEX, "HEX"},
	{CharsetIRA, "IRA"},
	{Charset8859_1, "8859-1"},
	{CharsetUTF8, "UTF-8"},
	{CharsetUCS2, "UCS2"},
	{CharsetPCCP437, "PCCP437"},
	{CharsetPCDN, "PCDN"},
}

// CharsetFromName maps an AT+CSCS name to a Charset.
func CharsetFromName(name string) Charset {
	name = strings.ToUpper(strings.Trim(strings.TrimSpace(name), "\""))
	switch name {
	case "ASCII":
		return CharsetIRA
	case "UTF8":
		return CharsetUTF8
	case "ISO-8859-1", "8859-1", "ISO8859-1":
		return Charset8859_1
	}
	for _, n := range charsetNames {
		if n.name == name {
			return n.cs
		}
	}
	return CharsetUnknown
}

// Name returns the AT+CSCS name of a single charset.
func (c Charset) Name() string {
	for _, n := range charsetNames {
		if n.cs == c {
			return n.name
		}
	}
	return ""
}

func (c Charset) String() string {
	if c == CharsetUnknown {
		return "unknown"
	}
	var parts []string
	for _, n := range charsetNames {
		if c&n.cs != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ", ")
}

func (c Charset) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Mode is a bitmask of radio generations.
type Mode uint32

const (
	ModeNone Mode = 0
	ModeCS   Mode = 1 << 0
	Mode2G   Mode = 1 << 1
	Mode3G   Mode = 1 << 2
	Mode4G   Mode = 1 << 3
	Mode5G   Mode = 1 << 4
	ModeAny  Mode = 0xFFFFFFFF
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeAny:
		return "any"
	}
	var parts []string
	for _, f := range []struct {
		bit  Mode
		name string
	}{{ModeCS, "cs"}, {Mode2G, "2g"}, {Mode3G, "3g"}, {Mode4G, "4g"}, {Mode5G, "5g"}} {
		if m&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ", ")
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the String form: "none", "any" or a comma
// separated list such as "2g, 3g".
func (m *Mode) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	switch s {
	case "", "none":
		*m = ModeNone
		return nil
	case "any":
		*m = ModeAny
		return nil
	}
	var out Mode
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "cs":
			out |= ModeCS
		case "2g":
			out |= Mode2G
		case "3g":
			out |= Mode3G
		case "4g":
			out |= Mode4G
		case "5g":
			out |= Mode5G
		default:
			return Errorf(KindInvalidArgs, "unknown mode %q", part)
		}
	}
	*m = out
	return nil
}

// ModeCombination pairs an allowed mode mask with a preferred mode.
type ModeCombination struct {
	Allowed   Mode `json:"allowed"`
	Preferred Mode `json:"preferred"`
}

// Band is a radio frequency band identifier.
type Band uint32

const (
	BandUnknown Band = 0
	BandEgsm    Band = 1
	BandDcs     Band = 2
	BandPcs     Band = 3
	BandG850    Band = 4
	BandUtran1  Band = 5
	BandUtran3  Band = 6
	BandUtran4  Band = 7
	BandUtran6  Band = 8
	BandUtran5  Band = 9
	BandUtran8  Band = 10
	BandUtran9  Band = 11
	BandUtran2  Band = 12
	BandUtran7  Band = 13
	BandEutran1 Band = 31
	BandAny     Band = 256
)

var bandNames = map[Band]string{
	BandUnknown: "unknown",
	BandEgsm:    "egsm",
	BandDcs:     "dcs",
	BandPcs:     "pcs",
	BandG850:    "g850",
	BandUtran1:  "utran-1",
	BandUtran3:  "utran-3",
	BandUtran4:  "utran-4",
	BandUtran6:  "utran-6",
	BandUtran5:  "utran-5",
	BandUtran8:  "utran-8",
	BandUtran9:  "utran-9",
	BandUtran2:  "utran-2",
	BandUtran7:  "utran-7",
	BandAny:     "any",
}

func (b Band) String() string {
	if name, ok := bandNames[b]; ok {
		return name
	}
	if b >= BandEutran1 && b < BandEutran1+85 {
		return "eutran-" + strconv.Itoa(int(b-BandEutran1)+1)
	}
	return fmt.Sprintf("band-%d", uint32(b))
}

func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Band) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for band, name := range bandNames {
		if name == s {
			*b = band
			return nil
		}
	}
	if n, ok := strings.CutPrefix(s, "eutran-"); ok {
		if v, err := strconv.Atoi(n); err == nil && v >= 1 && v <= 85 {
			*b = BandEutran1 + Band(v-1)
			return nil
		}
	}
	if n, ok := strings.CutPrefix(s, "band-"); ok {
		if v, err := strconv.ParseUint(n, 10, 32); err == nil {
			*b = Band(v)
			return nil
		}
	}
	return Errorf(KindInvalidArgs, "unknown band %q", s)
}

// BearerStatus is the connection status of a single bearer.
type BearerStatus int

const (
	BearerDisconnected BearerStatus = iota
	BearerDisconnecting
	BearerConnecting
	BearerConnected
)

func (s BearerStatus) String() string {
	switch s {
	case BearerDisconnecting:
		return "disconnecting"
	case BearerConnecting:
		return "connecting"
	case BearerConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s BearerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ForbiddenReason tells why a bearer may not connect.
type ForbiddenReason int

const (
	ForbiddenNone ForbiddenReason = iota
	ForbiddenUnregistered
	ForbiddenRoaming
)

func (r ForbiddenReason) String() string {
	switch r {
	case ForbiddenUnregistered:
		return "unregistered"
	case ForbiddenRoaming:
		return "roaming"
	default:
		return "none"
	}
}

func (r ForbiddenReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// BearerType is the network family a bearer belongs to.
type BearerType int

const (
	Bearer3gpp BearerType = iota
	BearerCdma
)

func (t BearerType) String() string {
	if t == BearerCdma {
		return "cdma"
	}
	return "3gpp"
}

func (t BearerType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// IPFamily is the requested IP family of a bearer.
type IPFamily uint32

const (
	IPFamilyNone   IPFamily = 0
	IPFamilyIPv4   IPFamily = 1 << 0
	IPFamilyIPv6   IPFamily = 1 << 1
	IPFamilyIPv4v6 IPFamily = 1 << 2
)

func (f IPFamily) String() string {
	switch f {
	case IPFamilyIPv4:
		return "ipv4"
	case IPFamilyIPv6:
		return "ipv6"
	case IPFamilyIPv4v6:
		return "ipv4v6"
	default:
		return "none"
	}
}

func (f IPFamily) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *IPFamily) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "none":
		*f = IPFamilyNone
	case "ipv4":
		*f = IPFamilyIPv4
	case "ipv6":
		*f = IPFamilyIPv6
	case "ipv4v6":
		*f = IPFamilyIPv4v6
	default:
		return Errorf(KindInvalidArgs, "unknown ip type %q", string(text))
	}
	return nil
}

// BearerProperties are the connection settings requested when a bearer is
// created.
type BearerProperties struct {
	APN          string   `json:"apn,omitempty"`
	IPType       IPFamily `json:"ip_type"`
	User         string   `json:"user,omitempty"`
	Password     string   `json:"-"`
	Number       string   `json:"number,omitempty"`
	AllowRoaming bool     `json:"allow_roaming"`
}

// SignalQuality is the last signal reading and whether it is fresh.
type SignalQuality struct {
	Value  uint `json:"value"`
	Recent bool `json:"recent"`
}

// Identity carries the hardware identification strings of a modem.
type Identity struct {
	Manufacturer        string `json:"manufacturer,omitempty"`
	Model               string `json:"model,omitempty"`
	Revision            string `json:"revision,omitempty"`
	EquipmentIdentifier string `json:"equipment_identifier,omitempty"`
}
