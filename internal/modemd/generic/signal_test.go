package generic

import (
	"context"
	"testing"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
)

func TestLoadSignalQuality(t *testing.T) {
	tests := []struct {
		reply   string
		want    uint
		wantErr bool
	}{
		{"+CSQ: 31,99", 100, false},
		{"+CSQ: 15,0", 48, false},
		{"+CSQ: 0,99", 0, false},
		{"+CSQ: 99,99", 0, true},
		{"+CSQ: 40,99", 0, true},
		{"+CSQ:", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			port := newFakePort().reply(CSQ, tt.reply)
			got, err := newTestDriver(Config{}, port).LoadSignalQuality(context.Background())
			if tt.wantErr {
				testutil.AssertErrorIs(t, err, mm.ErrFailed, "LoadSignalQuality")
				return
			}
			testutil.AssertNoError(t, err, "LoadSignalQuality")
			testutil.AssertEqual(t, tt.want, got, "quality")
		})
	}
}

func TestIndicatorIndex(t *testing.T) {
	payload := `("battchg",(0-5)),("signal",(0-5)),("service",(0-1))`
	testutil.AssertEqual(t, 2, indicatorIndex(payload, "signal"), "signal index")
	testutil.AssertEqual(t, 3, indicatorIndex(payload, "service"), "service index")
	testutil.AssertEqual(t, 0, indicatorIndex(payload, "roam"), "missing indicator")
}

func TestSignalIndicatorReports(t *testing.T) {
	ctx := context.Background()
	port := newFakePort().
		reply(CINDSupported, `+CIND: ("battchg",(0-5)),("signal",(0-5)),("service",(0-1))`).
		reply(CMEREnable).
		reply(CMERDisable)
	d := newTestDriver(Config{}, port)
	n := &notifier{}

	testutil.AssertNoError(t, d.SetupIndicators(ctx), "SetupIndicators")
	testutil.AssertNoError(t, d.SetupUnsolicitedRegistration(ctx, n), "notifier installed")
	testutil.AssertNoError(t, d.EnableUnsolicitedEvents(ctx), "EnableUnsolicitedEvents")

	testutil.AssertTrue(t, port.emit("+CIEV: 2,3"), "signal report")
	testutil.AssertTrue(t, port.emit("+CIEV: 1,5"), "battery report")
	testutil.AssertTrue(t, port.emit("+CIEV: 2,9"), "out of range report")

	n.mu.Lock()
	testutil.AssertEqual(t, 1, len(n.signal), "only the valid signal report forwarded")
	testutil.AssertEqual(t, uint(60), n.signal[0], "scaled to percent")
	n.mu.Unlock()

	testutil.AssertNoError(t, d.DisableUnsolicitedEvents(ctx), "DisableUnsolicitedEvents")
	testutil.AssertFalse(t, port.emit("+CIEV: 2,3"), "handler removed")
}

func TestSetupIndicatorsWithoutSignal(t *testing.T) {
	port := newFakePort().reply(CINDSupported, `+CIND: ("battchg",(0-5))`)
	err := newTestDriver(Config{}, port).SetupIndicators(context.Background())
	testutil.AssertErrorIs(t, err, mm.ErrUnsupported, "no signal indicator")
}

func TestEnableUnsolicitedEventsFailure(t *testing.T) {
	port := newFakePort()
	d := newTestDriver(Config{}, port)
	testutil.AssertErrorIs(t, d.EnableUnsolicitedEvents(context.Background()), mm.ErrFailed, "+CMER rejected")
	testutil.AssertFalse(t, port.emit("+CIEV: 2,3"), "no handler left behind")
}
