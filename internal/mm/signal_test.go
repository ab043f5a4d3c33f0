package mm_test

import (
	"context"
	"testing"
	"time"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
	"github.com/modemd/internal/testutil/mocks"
)

func TestSignalQualityGoesStale(t *testing.T) {
	m, clk := newModem(t, mocks.NewDriver("bare"))
	rec := record(m)

	m.UpdateSignalQuality(42)
	testutil.AssertEqual(t, mm.SignalQuality{Value: 42, Recent: true}, m.SignalQuality(), "fresh reading")

	clk.Step(59 * time.Second)
	testutil.AssertTrue(t, m.SignalQuality().Recent, "recent before 60s")

	clk.Step(time.Second)
	testutil.AssertEqual(t, mm.SignalQuality{Value: 42, Recent: false}, m.SignalQuality(), "stale reading keeps value")

	events := rec.ofType(mm.EventSignalQualityChanged)
	testutil.AssertEqual(t, 2, len(events), "signal events")
	testutil.AssertFalse(t, events[1].Signal.Recent, "stale event")
}

func TestSignalQualityRearm(t *testing.T) {
	m, clk := newModem(t, mocks.NewDriver("bare"))

	m.UpdateSignalQuality(42)
	clk.Step(30 * time.Second)
	m.UpdateSignalQuality(50)
	clk.Step(30 * time.Second)
	testutil.AssertEqual(t, mm.SignalQuality{Value: 50, Recent: true}, m.SignalQuality(), "new reading restarts the timer")

	clk.Step(30 * time.Second)
	testutil.AssertFalse(t, m.SignalQuality().Recent, "stale 60s after the last reading")
}

func TestSignalQualityClamped(t *testing.T) {
	m, _ := newModem(t, mocks.NewDriver("bare"))
	m.UpdateSignalQuality(250)
	testutil.AssertEqual(t, uint(100), m.SignalQuality().Value, "clamped")
}

func TestSignalPolling(t *testing.T) {
	m, d, clk := enabledModem(t)

	testutil.Eventually(t, time.Second, func() bool {
		return m.SignalQuality() == mm.SignalQuality{Value: 70, Recent: true}
	}, "initial signal check")

	d.SignalLoader.SetValue(55)
	testutil.Eventually(t, 2*time.Second, func() bool {
		clk.Step(30 * time.Second)
		return m.SignalQuality().Value == 55
	}, "periodic signal check")
}

func TestSignalClearedWhenUnregistered(t *testing.T) {
	m, _, _ := enabledModem(t)
	testutil.Eventually(t, time.Second, func() bool {
		return m.SignalQuality().Recent
	}, "initial signal check")

	m.UpdateCsRegistrationState(mm.RegistrationSearching, mm.AccessTechUnknown)
	m.UpdatePsRegistrationState(mm.RegistrationSearching, mm.AccessTechUnknown)
	testutil.AssertEqual(t, mm.StateSearching, m.State(), "state")
	testutil.AssertEqual(t, mm.SignalQuality{}, m.SignalQuality(), "signal cleared")
}

func TestSignalPollDropsOverlappingTicks(t *testing.T) {
	m, d, clk := enabledModem(t)
	testutil.Eventually(t, time.Second, func() bool {
		return m.SignalQuality().Recent
	}, "initial signal check")
	before := d.SignalLoader.LoadCalls()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.SignalLoader.SetHook(func(context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	testutil.Eventually(t, 2*time.Second, func() bool {
		clk.Step(30 * time.Second)
		select {
		case <-started:
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, "periodic signal check started")

	clk.Step(30 * time.Second)
	clk.Step(30 * time.Second)
	time.Sleep(20 * time.Millisecond)

	d.SignalLoader.SetHook(nil)
	d.SignalLoader.SetValue(40)
	close(release)
	testutil.Eventually(t, time.Second, func() bool {
		return m.SignalQuality() == mm.SignalQuality{Value: 40, Recent: true}
	}, "outstanding check stored")
	time.Sleep(20 * time.Millisecond)

	testutil.AssertEqual(t, before+1, d.SignalLoader.LoadCalls(), "one load for the overlapping ticks")
}
