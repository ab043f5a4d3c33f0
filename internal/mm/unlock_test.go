package mm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
	"github.com/modemd/internal/testutil/mocks"
)

type unlockDriver struct {
	*mocks.Driver
	*mocks.UnlockChecker
	*mocks.PinSender
}

func newUnlockDriver(results ...mocks.UnlockResult) *unlockDriver {
	d := &unlockDriver{
		Driver:        mocks.NewDriver("sim"),
		UnlockChecker: &mocks.UnlockChecker{},
		PinSender:     &mocks.PinSender{Valid: "1234"},
	}
	d.Script(results...)
	return d
}

func TestUnlockCheckWithoutCapability(t *testing.T) {
	m, _ := newModem(t, mocks.NewDriver("bare"))

	lock, err := m.UnlockCheck(context.Background())
	testutil.AssertNoError(t, err, "UnlockCheck")
	testutil.AssertEqual(t, mm.LockNone, lock, "lock")
	testutil.AssertEqual(t, mm.StateDisabled, m.State(), "unknown to none disables")
}

func TestUnlockCheckRetriesThenUnknown(t *testing.T) {
	d := newUnlockDriver(mocks.UnlockResult{Err: errors.New("timeout")})
	m, clk := newModem(t, d)

	type result struct {
		lock mm.Lock
		err  error
	}
	done := make(chan result, 1)
	go func() {
		lock, err := m.UnlockCheck(context.Background())
		done <- result{lock, err}
	}()

	for attempt := 1; attempt < 3; attempt++ {
		testutil.Eventually(t, time.Second, clk.HasWaiters, "retry timer armed")
		testutil.AssertEqual(t, attempt, d.CallCount(), "attempts before delay")

		// Nothing happens before the full delay has passed.
		clk.Step(1999 * time.Millisecond)
		testutil.AssertEqual(t, attempt, d.CallCount(), "attempts before 2s")
		clk.Step(time.Millisecond)
	}

	select {
	case r := <-done:
		testutil.AssertNoError(t, r.err, "exhausted retries are not an error")
		testutil.AssertEqual(t, mm.LockUnknown, r.lock, "lock")
	case <-time.After(2 * time.Second):
		t.Fatal("UnlockCheck did not complete")
	}
	testutil.AssertEqual(t, 3, d.CallCount(), "total attempts")
	testutil.AssertFalse(t, clk.HasWaiters(), "no timer left behind")
}

func TestUnlockCheckSimFatalNoRetry(t *testing.T) {
	d := newUnlockDriver(mocks.UnlockResult{Err: mm.Errorf(mm.KindSimFailure, "SIM failure")})
	m, clk := newModem(t, d)

	_, err := m.UnlockCheck(context.Background())
	testutil.AssertErrorIs(t, err, mm.ErrSimFailure, "UnlockCheck")
	testutil.AssertEqual(t, 1, d.CallCount(), "attempts")
	testutil.AssertFalse(t, clk.HasWaiters(), "no retry scheduled")
}

func TestUnlockCheckCancelled(t *testing.T) {
	d := newUnlockDriver(mocks.UnlockResult{Err: errors.New("timeout")})
	m, clk := newModem(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.UnlockCheck(ctx)
		done <- err
	}()

	testutil.Eventually(t, time.Second, clk.HasWaiters, "retry timer armed")
	cancel()

	select {
	case err := <-done:
		testutil.AssertErrorIs(t, err, mm.ErrCancelled, "cancelled check")
	case <-time.After(2 * time.Second):
		t.Fatal("UnlockCheck did not complete after cancel")
	}
}

func TestLockedModem(t *testing.T) {
	d := newUnlockDriver(mocks.UnlockResult{Lock: mm.LockSimPin})
	m, _ := newModem(t, d)
	ctx := context.Background()

	testutil.AssertNoError(t, m.Initialize(ctx), "Initialize")
	testutil.AssertEqual(t, mm.StateLocked, m.State(), "state")
	testutil.AssertEqual(t, mm.LockSimPin, m.Lock(), "lock")

	testutil.AssertErrorIs(t, m.Enable(ctx), mm.ErrWrongState, "Enable while locked")
}

func TestSendPinUnlocksAndReinitializes(t *testing.T) {
	d := newUnlockDriver(mocks.UnlockResult{Lock: mm.LockSimPin})
	d.PinSender.OnAccept = func() { d.Script(mocks.UnlockResult{Lock: mm.LockNone}) }
	m, _ := newModem(t, d)
	ctx := context.Background()
	rec := record(m)

	testutil.AssertNoError(t, m.Initialize(ctx), "Initialize")

	err := m.SendPin(ctx, "0000")
	testutil.AssertErrorIs(t, err, mm.ErrFailed, "wrong PIN")
	testutil.AssertEqual(t, mm.StateLocked, m.State(), "still locked")

	testutil.AssertErrorIs(t, m.SendPin(ctx, "12"), mm.ErrInvalidArgs, "short PIN")

	testutil.AssertNoError(t, m.SendPin(ctx, "1234"), "SendPin")
	testutil.AssertEqual(t, mm.LockNone, m.Lock(), "lock after PIN")

	// Initialize, SendPin and the deferred re-initialization each query the lock.
	testutil.Eventually(t, time.Second, func() bool { return d.CallCount() >= 3 }, "re-initialization")
	testutil.Eventually(t, time.Second, func() bool { return m.State() == mm.StateDisabled }, "disabled after unlock")
	testutil.AssertNoError(t, m.Enable(ctx), "Enable after unlock")

	locks := rec.ofType(mm.EventLockChanged)
	if len(locks) < 2 || locks[len(locks)-1].Lock != mm.LockNone {
		t.Errorf("unexpected lock events: %+v", locks)
	}
}

func TestSendPinUnsupported(t *testing.T) {
	m, _ := newModem(t, mocks.NewDriver("bare"))
	testutil.AssertErrorIs(t, m.SendPin(context.Background(), "1234"), mm.ErrUnsupported, "SendPin")
	testutil.AssertErrorIs(t, m.SendPuk(context.Background(), "12345678", "1234"), mm.ErrUnsupported, "SendPuk")
}
