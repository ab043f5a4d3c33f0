package atport

import (
	"fmt"
	"testing"

	"github.com/modemd/internal/testutil"
)

func TestIsFinal(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"OK", true},
		{"ERROR", true},
		{"NO CARRIER", true},
		{"CONNECT 115200", true},
		{"+CME ERROR: 10", true},
		{"+CMS ERROR: 500", true},
		{"+CSQ: 20,99", false},
		{"OKAY", false},
		{"RING", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			testutil.AssertEqual(t, tt.want, IsFinal(tt.line), "IsFinal")
		})
	}
}

func TestFields(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`20,99`, []string{"20", "99"}},
		{`1,"00C3","0010A5B1",7`, []string{"1", "00C3", "0010A5B1", "7"}},
		{`0,0,"Telekom.de, LTE",7`, []string{"0", "0", "Telekom.de, LTE", "7"}},
		{`(0-4),(0,1)`, []string{"(0-4)", "(0,1)"}},
		{``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			testutil.AssertEqual(t, fmt.Sprintf("%q", tt.want), fmt.Sprintf("%q", Fields(tt.in)), "fields")
		})
	}
}

func TestList(t *testing.T) {
	testutil.AssertEqual(t, `["IRA" "GSM" "UCS2"]`, fmt.Sprintf("%q", List(`("IRA","GSM","UCS2")`)), "charsets")
	testutil.AssertEqual(t, `["0" "1" "2" "5"]`, fmt.Sprintf("%q", List(`(0-2,5)`)), "ranges expanded")
	testutil.AssertEqual(t, 0, len(List(`()`)), "empty list")
}

func TestStripAndFind(t *testing.T) {
	v, ok := Strip("+CSQ: 20,99", "+CSQ:")
	testutil.AssertTrue(t, ok, "prefix found")
	testutil.AssertEqual(t, "20,99", v, "payload")

	_, ok = Strip("+CREG: 1", "+CSQ:")
	testutil.AssertFalse(t, ok, "other prefix")

	v, ok = Find([]string{"+CGREG: 0,1", "+CSQ: 31,99"}, "+CSQ:")
	testutil.AssertTrue(t, ok, "found")
	testutil.AssertEqual(t, "31,99", v, "payload")
}

func TestCMEErrorText(t *testing.T) {
	testutil.AssertEqual(t, "+CME ERROR: 10 (SIM not inserted)", parseCME("10").Error(), "known code")
	testutil.AssertEqual(t, "+CME ERROR: 15 (SIM wrong)", parseCME("sim wrong").Error(), "verbose text")
	testutil.AssertEqual(t, "+CME ERROR: phone busy", parseCME("phone busy").Error(), "unknown text")
	testutil.AssertEqual(t, "+CME ERROR: 999", parseCME("999").Error(), "unknown code")
}

func TestQuote(t *testing.T) {
	testutil.AssertEqual(t, `"internet"`, Quote("internet"), "quoted")
	testutil.AssertEqual(t, `"ab"`, Quote(`a"b`), "inner quotes removed")
}
