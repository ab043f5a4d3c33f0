package generic

import (
	"context"
	"testing"
	"time"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
)

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		query   bool
		want    mm.RegistrationReading
		wantErr bool
	}{
		{"report stat only", "5", false, mm.RegistrationReading{State: mm.RegistrationRoaming}, false},
		{"report with lte", `1,"1A2B","01A2B3C4",7`, false, mm.RegistrationReading{State: mm.RegistrationHome, AccessTech: mm.AccessTechLte}, false},
		{"query basic", "0,2", true, mm.RegistrationReading{State: mm.RegistrationSearching}, false},
		{"query umts", `2,1,"00C3","0010A5B1",2`, true, mm.RegistrationReading{State: mm.RegistrationHome, AccessTech: mm.AccessTechUmts}, false},
		{"query denied", "1,3", true, mm.RegistrationReading{State: mm.RegistrationDenied}, false},
		{"sms only roaming", "7", false, mm.RegistrationReading{State: mm.RegistrationRoaming}, false},
		{"emergency only", "8", false, mm.RegistrationReading{State: mm.RegistrationIdle}, false},
		{"out of range stat", "42", false, mm.RegistrationReading{State: mm.RegistrationUnknown}, false},
		{"query too short", "2", true, mm.RegistrationReading{}, true},
		{"garbage", "x", false, mm.RegistrationReading{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRegistration(tt.payload, tt.query)
			if tt.wantErr {
				testutil.AssertError(t, err, "parseRegistration")
				return
			}
			testutil.AssertNoError(t, err, "parseRegistration")
			testutil.AssertEqual(t, tt.want, got, "reading")
		})
	}
}

func TestIsUnsolicitedRegistration(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"+CREG: 1", true},
		{`+CREG: 1,"00C3","0010A5B1",7`, true},
		{"+CREG: 0,1", false},
		{`+CREG: 2,1,"00C3","0010A5B1",7`, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			testutil.AssertEqual(t, tt.want, isUnsolicitedRegistration(tt.line), "unsolicited")
		})
	}
}

func TestUnsolicitedRegistration(t *testing.T) {
	port := newFakePort()
	d := newTestDriver(Config{}, port)
	n := &notifier{}
	testutil.AssertNoError(t, d.SetupUnsolicitedRegistration(context.Background(), n), "setup")

	testutil.AssertTrue(t, port.emit("+CREG: 5"), "CS report handled")
	testutil.AssertTrue(t, port.emit("+CGREG: 0"), "GPRS report handled")
	testutil.AssertTrue(t, port.emit(`+CEREG: 1,"1A2B","01A2B3C4",7`), "EPS report handled")
	testutil.AssertTrue(t, port.emit("+CGREG: 0"), "GPRS report handled again")
	testutil.AssertFalse(t, port.emit("+CREG: 2,1"), "query reply not taken")

	n.mu.Lock()
	testutil.AssertEqual(t, 1, len(n.cs), "CS reports")
	testutil.AssertEqual(t, mm.RegistrationRoaming, n.cs[0].State, "CS state")
	testutil.AssertEqual(t, 3, len(n.ps), "PS reports")
	testutil.AssertEqual(t, mm.RegistrationIdle, n.ps[0].State, "GPRS idle before EPS")
	testutil.AssertEqual(t, mm.RegistrationReading{State: mm.RegistrationHome, AccessTech: mm.AccessTechLte}, n.ps[1], "EPS home")
	testutil.AssertEqual(t, mm.RegistrationHome, n.ps[2].State, "EPS keeps PS registered")
	n.mu.Unlock()

	testutil.AssertNoError(t, d.CleanupUnsolicitedRegistration(context.Background()), "cleanup")
	testutil.AssertFalse(t, port.emit("+CREG: 1"), "handlers removed")
}

func TestRegistrationSetupFallsBack(t *testing.T) {
	port := newFakePort().reply("AT+CREG=1").reply("AT+CGREG=2")
	d := newTestDriver(Config{}, port)

	testutil.AssertNoError(t, d.SetupCsRegistration(context.Background()), "CS setup")
	testutil.AssertEqual(t, "AT+CREG=2|AT+CREG=1", port.commands(), "CS commands")

	port.resetCommands()
	testutil.AssertNoError(t, d.SetupPsRegistration(context.Background()), "PS setup without +CEREG")
	testutil.AssertEqual(t, "AT+CGREG=2|AT+CEREG=2|AT+CEREG=1", port.commands(), "PS commands")

	err := newTestDriver(Config{}, newFakePort()).SetupCsRegistration(context.Background())
	testutil.AssertErrorIs(t, err, mm.ErrFailed, "no report support")
}

func TestRunRegistrationChecks(t *testing.T) {
	ctx := context.Background()

	port := newFakePort().
		reply(CREGQuery, `+CREG: 2,5,"00C3","0010A5B1",0`).
		reply(CGREGQuery, "+CGREG: 2,0").
		reply(CEREGQuery, `+CEREG: 2,1,"1A2B","01A2B3C4",7`)
	d := newTestDriver(Config{}, port)

	cs, err := d.RunCsRegistrationCheck(ctx)
	testutil.AssertNoError(t, err, "CS check")
	testutil.AssertEqual(t, mm.RegistrationReading{State: mm.RegistrationRoaming, AccessTech: mm.AccessTechGsm}, cs, "CS reading")

	ps, err := d.RunPsRegistrationCheck(ctx)
	testutil.AssertNoError(t, err, "PS check")
	testutil.AssertEqual(t, mm.RegistrationReading{State: mm.RegistrationHome, AccessTech: mm.AccessTechLte}, ps, "EPS wins")

	port = newFakePort().reply(CGREGQuery, "+CGREG: 0,2")
	ps, err = newTestDriver(Config{}, port).RunPsRegistrationCheck(ctx)
	testutil.AssertNoError(t, err, "PS check without +CEREG")
	testutil.AssertEqual(t, mm.RegistrationSearching, ps.State, "GPRS reading")

	_, err = newTestDriver(Config{}, newFakePort()).RunPsRegistrationCheck(ctx)
	testutil.AssertErrorIs(t, err, mm.ErrFailed, "neither answered")
}

func TestOperator(t *testing.T) {
	ctx := context.Background()

	port := newFakePort().
		reply(COPSNumeric).
		reply(COPSQuery, `+COPS: 0,2,"26201",7`)
	code, err := newTestDriver(Config{}, port).LoadOperatorCode(ctx)
	testutil.AssertNoError(t, err, "LoadOperatorCode")
	testutil.AssertEqual(t, "26201", code, "operator code")

	tests := []struct {
		name    string
		charset mm.Charset
		reply   string
		want    string
	}{
		{"ira", mm.CharsetIRA, `+COPS: 0,0,"Telekom.de",7`, "Telekom.de"},
		{"ucs2", mm.CharsetUCS2, `+COPS: 0,0,"00540065006C0065006B006F006D",7`, "Telekom"},
		{"ucs2 reported as ira", mm.CharsetUCS2, `+COPS: 0,0,"Vodafone.de",7`, "Vodafone.de"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newFakePort().reply(COPSAlpha).reply(COPSQuery, tt.reply)
			d := newTestDriver(Config{}, port)
			d.charset = tt.charset
			name, err := d.LoadOperatorName(ctx)
			testutil.AssertNoError(t, err, "LoadOperatorName")
			testutil.AssertEqual(t, tt.want, name, "operator name")
		})
	}

	port = newFakePort().reply(COPSNumeric).reply(COPSQuery, "+COPS: 0")
	_, err = newTestDriver(Config{}, port).LoadOperatorCode(ctx)
	testutil.AssertErrorIs(t, err, mm.ErrNotFound, "not registered")

	port = newFakePort().reply(COPSNumeric).reply(COPSQuery, `+COPS: 0,2,"2620",7`)
	_, err = newTestDriver(Config{}, port).LoadOperatorCode(ctx)
	testutil.AssertErrorIs(t, err, mm.ErrFailed, "short code")
}

func TestRegisterInNetwork(t *testing.T) {
	ctx := context.Background()
	port := newFakePort().reply(COPSAutomatic).reply(`AT+COPS=1,2,"26202"`)
	d := newTestDriver(Config{}, port)

	testutil.AssertNoError(t, d.RegisterInNetwork(ctx, ""), "automatic")
	testutil.AssertNoError(t, d.RegisterInNetwork(ctx, "26202"), "manual")
	testutil.AssertEqual(t, `AT+COPS=0|AT+COPS=1,2,"26202"`, port.commands(), "commands")
	testutil.AssertEqual(t, 120*time.Second, port.timeouts[COPSAutomatic], "long timeout")

	testutil.AssertErrorIs(t, d.RegisterInNetwork(ctx, "vodafone"), mm.ErrInvalidArgs, "non numeric id")
}
