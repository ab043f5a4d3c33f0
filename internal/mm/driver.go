package mm

import (
	"context"
	"time"
)

// Port is the primary command port of a modem. Only one command sequence
// may use it at a time; implementations serialize their own commands.
type Port interface {
	Open(ctx context.Context) error
	// Flash drops the control lines for d, resetting the line state.
	Flash(ctx context.Context, d time.Duration) error
	Close() error
	IsOpen() bool
}

// Driver is the only capability every driver must provide. All other
// capabilities are optional interfaces discovered by type assertion.
type Driver interface {
	Name() string
	PrimaryPort() Port
}

// Capability loading.

type CurrentCapabilitiesLoader interface {
	LoadCurrentCapabilities(ctx context.Context) (Capability, error)
}

// ModemCapabilitiesLoader loads every capability the hardware supports.
// When absent the current capabilities are used.
type ModemCapabilitiesLoader interface {
	LoadModemCapabilities(ctx context.Context) (Capability, error)
}

type IdentityLoader interface {
	LoadIdentity(ctx context.Context) (Identity, error)
}

type SupportedModesLoader interface {
	LoadSupportedModes(ctx context.Context) ([]ModeCombination, error)
}

type SupportedBandsLoader interface {
	LoadSupportedBands(ctx context.Context) ([]Band, error)
}

// BearerLimiter reports how many bearers the modem can hold and have
// connected at once.
type BearerLimiter interface {
	BearerLimits() (max, maxActive int)
}

// Unlocking.

type UnlockRequiredLoader interface {
	LoadUnlockRequired(ctx context.Context) (Lock, error)
}

type UnlockRetriesLoader interface {
	LoadUnlockRetries(ctx context.Context) (UnlockRetries, error)
}

type PinSender interface {
	SendPin(ctx context.Context, pin string) error
}

type PukSender interface {
	SendPuk(ctx context.Context, puk, newPin string) error
}

// Enable and disable steps.

type Initializer interface {
	ModemInit(ctx context.Context) error
}

type PowerUpper interface {
	ModemPowerUp(ctx context.Context) error
}

// AfterPowerUpper runs once power up completes, typically to wait for the
// radio to settle.
type AfterPowerUpper interface {
	ModemAfterPowerUp(ctx context.Context) error
}

// PowerDowner powers the radio down during Disable. Implementing it opts
// the driver in; blind power down bricks some hardware.
type PowerDowner interface {
	ModemPowerDown(ctx context.Context) error
}

type FlowControlSetter interface {
	SetupFlowControl(ctx context.Context) error
}

type CharsetLoader interface {
	LoadSupportedCharsets(ctx context.Context) (Charset, error)
}

type CharsetSetter interface {
	SetupCharset(ctx context.Context, cs Charset) error
}

type IndicatorSetter interface {
	SetupIndicators(ctx context.Context) error
}

type UnsolicitedEventsController interface {
	EnableUnsolicitedEvents(ctx context.Context) error
	DisableUnsolicitedEvents(ctx context.Context) error
}

type SignalQualityLoader interface {
	LoadSignalQuality(ctx context.Context) (uint, error)
}

// 3GPP registration.

// RegistrationReading is one raw registration report from the hardware.
type RegistrationReading struct {
	State      RegistrationState
	AccessTech AccessTechnology
}

// CsRegistrationSetup enables and disables unsolicited circuit-switched
// registration reports.
type CsRegistrationSetup interface {
	SetupCsRegistration(ctx context.Context) error
	CleanupCsRegistration(ctx context.Context) error
}

type PsRegistrationSetup interface {
	SetupPsRegistration(ctx context.Context) error
	CleanupPsRegistration(ctx context.Context) error
}

// UnsolicitedRegistrationSetup installs the handlers that receive
// registration reports. Drivers deliver those reports through the
// Notifier passed in.
type UnsolicitedRegistrationSetup interface {
	SetupUnsolicitedRegistration(ctx context.Context, n Notifier) error
	CleanupUnsolicitedRegistration(ctx context.Context) error
}

type CsRegistrationChecker interface {
	RunCsRegistrationCheck(ctx context.Context) (RegistrationReading, error)
}

type PsRegistrationChecker interface {
	RunPsRegistrationCheck(ctx context.Context) (RegistrationReading, error)
}

type OperatorCodeLoader interface {
	LoadOperatorCode(ctx context.Context) (string, error)
}

type OperatorNameLoader interface {
	LoadOperatorName(ctx context.Context) (string, error)
}

// NetworkRegisterer requests registration with a specific operator, or
// automatic selection when operatorID is empty.
type NetworkRegisterer interface {
	RegisterInNetwork(ctx context.Context, operatorID string) error
}

// Notifier receives readings pushed by the hardware.
type Notifier interface {
	UpdateCsRegistrationState(state RegistrationState, act AccessTechnology)
	UpdatePsRegistrationState(state RegistrationState, act AccessTechnology)
	UpdateAccessTechnologies(act, mask AccessTechnology)
	UpdateSignalQuality(value uint)
}

// Bearers.

// BearerHandle is the driver side of a bearer.
type BearerHandle interface {
	Type() BearerType
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// ForceDisconnecter tears a connection down immediately, without any
// negotiation with the network.
type ForceDisconnecter interface {
	ForceDisconnect()
}

type BearerCreator interface {
	CreateBearer(ctx context.Context, props BearerProperties) (BearerHandle, error)
}

type BearerLister interface {
	ListBearers(ctx context.Context) ([]BearerHandle, error)
}

type BearerDeleter interface {
	DeleteBearer(ctx context.Context, b BearerHandle) error
}

// Modes, bands and maintenance.

type AllowedModesSetter interface {
	SetAllowedModes(ctx context.Context, allowed, preferred Mode) error
}

type AllowedBandsSetter interface {
	SetAllowedBands(ctx context.Context, bands []Band) error
}

type Resetter interface {
	Reset(ctx context.Context) error
}

type FactoryResetter interface {
	FactoryReset(ctx context.Context, code string) error
}
