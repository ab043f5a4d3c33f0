package mm_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
	"github.com/modemd/internal/testutil/mocks"
)

var allRegistrationStates = []mm.RegistrationState{
	mm.RegistrationIdle,
	mm.RegistrationHome,
	mm.RegistrationSearching,
	mm.RegistrationDenied,
	mm.RegistrationUnknown,
	mm.RegistrationRoaming,
}

func TestConsolidateAllPairs(t *testing.T) {
	registered := func(s mm.RegistrationState) bool {
		return s == mm.RegistrationHome || s == mm.RegistrationRoaming
	}

	for _, cs := range allRegistrationStates {
		for _, ps := range allRegistrationStates {
			var want mm.RegistrationState
			switch {
			case registered(cs):
				want = cs
			case registered(ps):
				want = ps
			case cs == mm.RegistrationSearching:
				want = cs
			case ps == mm.RegistrationSearching:
				want = ps
			default:
				want = cs
			}
			t.Run(fmt.Sprintf("%s/%s", cs, ps), func(t *testing.T) {
				if got := mm.Consolidate(cs, ps); got != want {
					t.Errorf("Consolidate(%s, %s) = %s, want %s", cs, ps, got, want)
				}
			})
		}
	}
}

func TestConsolidateSpotChecks(t *testing.T) {
	tests := []struct {
		cs, ps, want mm.RegistrationState
	}{
		{mm.RegistrationHome, mm.RegistrationRoaming, mm.RegistrationHome},
		{mm.RegistrationRoaming, mm.RegistrationHome, mm.RegistrationRoaming},
		{mm.RegistrationSearching, mm.RegistrationHome, mm.RegistrationHome},
		{mm.RegistrationIdle, mm.RegistrationRoaming, mm.RegistrationRoaming},
		{mm.RegistrationDenied, mm.RegistrationSearching, mm.RegistrationSearching},
		{mm.RegistrationSearching, mm.RegistrationDenied, mm.RegistrationSearching},
		{mm.RegistrationDenied, mm.RegistrationIdle, mm.RegistrationDenied},
		{mm.RegistrationUnknown, mm.RegistrationIdle, mm.RegistrationUnknown},
		{mm.RegistrationIdle, mm.RegistrationUnknown, mm.RegistrationIdle},
	}
	for _, tt := range tests {
		if got := mm.Consolidate(tt.cs, tt.ps); got != tt.want {
			t.Errorf("Consolidate(%s, %s) = %s, want %s", tt.cs, tt.ps, got, tt.want)
		}
	}
}

func TestUpdateStateIdempotent(t *testing.T) {
	m, _ := newModem(t, mocks.NewDriver("bare"))
	rec := record(m)

	m.UpdateState(mm.StateUnknown)
	testutil.AssertEqual(t, 0, len(rec.ofType(mm.EventStateChanged)), "events for same state")

	m.UpdateState(mm.StateDisabled)
	m.UpdateState(mm.StateDisabled)
	changes := rec.ofType(mm.EventStateChanged)
	testutil.AssertEqual(t, 1, len(changes), "events after repeated update")
	testutil.AssertEqual(t, mm.StateUnknown, changes[0].OldState, "old state")
	testutil.AssertEqual(t, mm.StateDisabled, changes[0].NewState, "new state")
}

func TestDowngradeGuardWhileConnected(t *testing.T) {
	m, _, _ := enabledModem(t)
	ctx := context.Background()

	b, err := m.CreateBearer(ctx, mm.BearerProperties{APN: "internet"}, false)
	testutil.AssertNoError(t, err, "CreateBearer")
	testutil.AssertNoError(t, b.Connect(ctx), "Connect")
	testutil.AssertEqual(t, mm.StateConnected, m.State(), "state after connect")

	m.UpdateState(mm.StateSearching)
	testutil.AssertEqual(t, mm.StateConnected, m.State(), "searching suppressed")

	m.UpdateState(mm.StateRegistered)
	testutil.AssertEqual(t, mm.StateConnected, m.State(), "registered suppressed")

	// Any other state is applied.
	m.UpdateState(mm.StateEnabled)
	testutil.AssertEqual(t, mm.StateEnabled, m.State(), "enabled applied")
}

func TestRoamingFlickerKeepsConnection(t *testing.T) {
	m, _, _ := enabledModem(t)
	ctx := context.Background()

	b, err := m.CreateBearer(ctx, mm.BearerProperties{APN: "internet"}, false)
	testutil.AssertNoError(t, err, "CreateBearer")
	testutil.AssertNoError(t, b.Connect(ctx), "Connect")

	m.UpdateCsRegistrationState(mm.RegistrationRoaming, mm.AccessTechUmts)

	testutil.AssertEqual(t, mm.RegistrationRoaming, m.RegistrationState(), "registration")
	testutil.AssertEqual(t, mm.StateConnected, m.State(), "state")
	testutil.AssertEqual(t, mm.BearerConnected, b.Status(), "bearer stays up")
	allowed, reason := b.ConnectionAllowed()
	testutil.AssertFalse(t, allowed, "roaming not allowed for bearer")
	testutil.AssertEqual(t, mm.ForbiddenRoaming, reason, "forbidden reason")
}

func TestBearerStatusDrivesState(t *testing.T) {
	m, _, _ := enabledModem(t)
	ctx := context.Background()
	rec := record(m)

	b, err := m.CreateBearer(ctx, mm.BearerProperties{APN: "internet"}, false)
	testutil.AssertNoError(t, err, "CreateBearer")

	testutil.AssertNoError(t, b.Connect(ctx), "Connect")
	testutil.AssertEqual(t, mm.StateConnected, m.State(), "after connect")

	testutil.AssertNoError(t, b.Disconnect(ctx), "Disconnect")
	testutil.AssertEqual(t, mm.StateRegistered, m.State(), "after disconnect")

	var seen []mm.State
	for _, ev := range rec.ofType(mm.EventStateChanged) {
		seen = append(seen, ev.NewState)
	}
	want := []mm.State{mm.StateConnecting, mm.StateConnected, mm.StateDisconnecting, mm.StateRegistered}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("state sequence = %v, want %v", seen, want)
	}
}

func TestSecondBearerKeepsConnectedState(t *testing.T) {
	m, _, _ := enabledModem(t)
	ctx := context.Background()

	b1, err := m.CreateBearer(ctx, mm.BearerProperties{APN: "a"}, false)
	testutil.AssertNoError(t, err, "CreateBearer a")
	b2, err := m.CreateBearer(ctx, mm.BearerProperties{APN: "b"}, false)
	testutil.AssertNoError(t, err, "CreateBearer b")

	testutil.AssertNoError(t, b1.Connect(ctx), "Connect a")
	testutil.AssertNoError(t, b2.Connect(ctx), "Connect b")
	testutil.AssertNoError(t, b2.Disconnect(ctx), "Disconnect b")

	testutil.AssertEqual(t, mm.StateConnected, m.State(), "other bearer still connected")
}
