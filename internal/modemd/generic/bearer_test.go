package generic

import (
	"context"
	"testing"
	"time"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
	"github.com/modemd/internal/testutil/mocks"
)

func TestCreateBearer(t *testing.T) {
	ctx := context.Background()
	port := newFakePort().
		reply(`AT+CGDCONT=1,"IPV4V6","internet"`).
		reply(`AT+CGDCONT=2,"IP","ims"`).
		reply("AT+CGDCONT=1").
		reply(`AT+CGDCONT=1,"IPV6","v6.example"`)
	d := newTestDriver(Config{MaxBearers: 2}, port)

	first, err := d.CreateBearer(ctx, mm.BearerProperties{APN: "internet", IPType: mm.IPFamilyIPv4v6})
	testutil.AssertNoError(t, err, "first bearer")
	testutil.AssertEqual(t, 1, first.(*bearer).CID(), "first cid")
	testutil.AssertEqual(t, mm.Bearer3gpp, first.Type(), "bearer type")

	second, err := d.CreateBearer(ctx, mm.BearerProperties{APN: "ims", IPType: mm.IPFamilyIPv4})
	testutil.AssertNoError(t, err, "second bearer")
	testutil.AssertEqual(t, 2, second.(*bearer).CID(), "second cid")

	_, err = d.CreateBearer(ctx, mm.BearerProperties{APN: "third"})
	testutil.AssertErrorIs(t, err, mm.ErrTooMany, "no free context")

	testutil.AssertNoError(t, d.DeleteBearer(ctx, first), "DeleteBearer")
	again, err := d.CreateBearer(ctx, mm.BearerProperties{APN: "v6.example", IPType: mm.IPFamilyIPv6})
	testutil.AssertNoError(t, err, "bearer after delete")
	testutil.AssertEqual(t, 1, again.(*bearer).CID(), "cid reused")
}

func TestCreateBearerErrors(t *testing.T) {
	ctx := context.Background()
	port := newFakePort()
	d := newTestDriver(Config{}, port)

	_, err := d.CreateBearer(ctx, mm.BearerProperties{APN: "intérnet"})
	testutil.AssertErrorIs(t, err, mm.ErrInvalidArgs, "non-ASCII APN")
	testutil.AssertEqual(t, "", port.commands(), "nothing sent")

	_, err = d.CreateBearer(ctx, mm.BearerProperties{APN: "internet"})
	testutil.AssertErrorIs(t, err, mm.ErrFailed, "modem rejected context")
	d.mu.Lock()
	testutil.AssertEqual(t, 0, len(d.cids), "cid released")
	d.mu.Unlock()

	err = d.DeleteBearer(ctx, &mocks.BearerHandle{})
	testutil.AssertErrorIs(t, err, mm.ErrInvalidArgs, "foreign bearer")
}

func TestBearerConnect(t *testing.T) {
	ctx := context.Background()
	port := newFakePort().
		reply(`AT+CGDCONT=1,"IP","internet"`).
		reply(`AT+CGAUTH=1,1,"user","secret"`).
		reply("AT+CGACT=1,1").
		reply("AT+CGACT=0,1")
	d := newTestDriver(Config{ConnectTimeout: 30 * time.Second}, port)

	b, err := d.CreateBearer(ctx, mm.BearerProperties{APN: "internet", User: "user", Password: "secret"})
	testutil.AssertNoError(t, err, "CreateBearer")
	port.resetCommands()

	testutil.AssertNoError(t, b.Connect(ctx), "Connect")
	testutil.AssertNoError(t, b.Disconnect(ctx), "Disconnect")
	testutil.AssertEqual(t, `AT+CGAUTH=1,1,"user","secret"|AT+CGACT=1,1|AT+CGACT=0,1`, port.commands(), "commands")
	testutil.AssertEqual(t, 30*time.Second, port.timeouts["AT+CGACT=1,1"], "activation timeout")

	port.resetCommands()
	b.(mm.ForceDisconnecter).ForceDisconnect()
	testutil.Eventually(t, time.Second, func() bool {
		return port.commands() == "AT+CGACT=0,1"
	}, "forced deactivation sent")
}
