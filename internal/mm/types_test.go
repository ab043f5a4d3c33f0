package mm_test

import (
	"encoding/json"
	"testing"

	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
)

func TestModeText(t *testing.T) {
	tests := []struct {
		in   string
		want mm.Mode
	}{
		{"none", mm.ModeNone},
		{"any", mm.ModeAny},
		{"4g", mm.Mode4G},
		{"2g, 3g", mm.Mode2G | mm.Mode3G},
		{"3G,4G", mm.Mode3G | mm.Mode4G},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var m mm.Mode
			testutil.AssertNoError(t, m.UnmarshalText([]byte(tt.in)), "UnmarshalText")
			testutil.AssertEqual(t, tt.want, m, "mode")

			var back mm.Mode
			testutil.AssertNoError(t, back.UnmarshalText([]byte(m.String())), "round trip")
			testutil.AssertEqual(t, m, back, "round trip")
		})
	}

	var m mm.Mode
	testutil.AssertErrorIs(t, m.UnmarshalText([]byte("6g")), mm.ErrInvalidArgs, "unknown mode")
}

func TestBandText(t *testing.T) {
	for _, b := range []mm.Band{mm.BandEgsm, mm.BandUtran1, mm.BandEutran1, mm.BandEutran1 + 19, mm.BandAny, mm.Band(200)} {
		var got mm.Band
		testutil.AssertNoError(t, got.UnmarshalText([]byte(b.String())), b.String())
		testutil.AssertEqual(t, b, got, b.String())
	}

	var b mm.Band
	testutil.AssertErrorIs(t, b.UnmarshalText([]byte("eutran-99")), mm.ErrInvalidArgs, "out of range band")
}

func TestBearerPropertiesJSON(t *testing.T) {
	var props mm.BearerProperties
	err := json.Unmarshal([]byte(`{"apn":"internet","ip_type":"ipv4v6","allow_roaming":true}`), &props)
	testutil.AssertNoError(t, err, "unmarshal")
	testutil.AssertEqual(t, "internet", props.APN, "apn")
	testutil.AssertEqual(t, mm.IPFamilyIPv4v6, props.IPType, "ip type")
	testutil.AssertTrue(t, props.AllowRoaming, "allow_roaming")

	err = json.Unmarshal([]byte(`{"ip_type":"ipx"}`), &props)
	testutil.AssertError(t, err, "unknown ip type")
}

func TestEventEncodesZeroStates(t *testing.T) {
	data, err := json.Marshal(mm.Event{
		Type:     mm.EventStateChanged,
		OldState: mm.StateUnknown,
		NewState: mm.StateInitializing,
	})
	testutil.AssertNoError(t, err, "marshal state event")

	var ev map[string]any
	testutil.AssertNoError(t, json.Unmarshal(data, &ev), "decode")
	testutil.AssertEqual[any](t, "unknown", ev["old_state"], "old_state present")
	testutil.AssertEqual[any](t, "initializing", ev["new_state"], "new_state")
	testutil.AssertEqual[any](t, "idle", ev["registration"], "registration present")
	testutil.AssertEqual[any](t, "disconnected", ev["bearer_status"], "bearer_status present")
}
