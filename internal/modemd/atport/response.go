// Package atport implements the AT command channel of a modem: the serial
// primary port, command execution and final result parsing.
package atport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/modemd/internal/mm"
)

// Final result codes
const (
	ResultOK         = "OK"
	ResultConnect    = "CONNECT"
	ResultError      = "ERROR"
	ResultNoCarrier  = "NO CARRIER"
	ResultNoDialtone = "NO DIALTONE"
	ResultBusy       = "BUSY"
	ResultNoAnswer   = "NO ANSWER"

	PrefixCMEError = "+CME ERROR:"
	PrefixCMSError = "+CMS ERROR:"
)

// CMEError is a mobile equipment error reported with +CME ERROR. Code is -1
// when the modem reported only the verbose text.
type CMEError struct {
	Code int
	Text string
}

func (e *CMEError) Error() string {
	switch {
	case e.Code >= 0 && e.Text != "":
		return fmt.Sprintf("+CME ERROR: %d (%s)", e.Code, e.Text)
	case e.Code >= 0:
		return fmt.Sprintf("+CME ERROR: %d", e.Code)
	default:
		return "+CME ERROR: " + e.Text
	}
}

// 3GPP TS 27.007 section 9.2 codes the core cares about.
var cmeErrors = map[int]struct {
	text string
	kind mm.ErrorKind
}{
	3:   {"operation not allowed", mm.KindFailed},
	4:   {"operation not supported", mm.KindUnsupported},
	10:  {"SIM not inserted", mm.KindSimNotInserted},
	11:  {"SIM PIN required", mm.KindUnauthorized},
	12:  {"SIM PUK required", mm.KindUnauthorized},
	13:  {"SIM failure", mm.KindSimFailure},
	14:  {"SIM busy", mm.KindFailed},
	15:  {"SIM wrong", mm.KindSimWrong},
	16:  {"incorrect password", mm.KindUnauthorized},
	17:  {"SIM PIN2 required", mm.KindUnauthorized},
	18:  {"SIM PUK2 required", mm.KindUnauthorized},
	30:  {"no network service", mm.KindFailed},
	31:  {"network timeout", mm.KindFailed},
	100: {"unknown", mm.KindFailed},
}

// IsFinal reports whether line terminates a command response.
func IsFinal(line string) bool {
	switch line {
	case ResultOK, ResultError, ResultNoCarrier, ResultNoDialtone, ResultBusy, ResultNoAnswer:
		return true
	}
	return strings.HasPrefix(line, ResultConnect) ||
		strings.HasPrefix(line, PrefixCMEError) ||
		strings.HasPrefix(line, PrefixCMSError)
}

// resultError converts a failed final result into a typed error. It returns
// nil for OK and CONNECT.
func resultError(cmd, line string) error {
	switch {
	case line == ResultOK, strings.HasPrefix(line, ResultConnect):
		return nil
	case strings.HasPrefix(line, PrefixCMEError):
		cme := parseCME(strings.TrimSpace(line[len(PrefixCMEError):]))
		kind := mm.KindFailed
		if e, ok := cmeErrors[cme.Code]; ok {
			kind = e.kind
		}
		return mm.Wrap(kind, cme, cmd+" failed")
	default:
		return mm.Errorf(mm.KindFailed, "%s failed: %s", cmd, line)
	}
}

func parseCME(s string) *CMEError {
	if code, err := strconv.Atoi(s); err == nil {
		return &CMEError{Code: code, Text: cmeErrors[code].text}
	}
	for code, e := range cmeErrors {
		if strings.EqualFold(e.text, s) {
			return &CMEError{Code: code, Text: e.text}
		}
	}
	return &CMEError{Code: -1, Text: s}
}

// Strip returns the payload of an information line with the given prefix,
// e.g. Strip("+CSQ: 20,99", "+CSQ:") returns "20,99".
func Strip(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

// Find returns the payload of the first line carrying prefix.
func Find(lines []string, prefix string) (string, bool) {
	for _, line := range lines {
		if v, ok := Strip(line, prefix); ok {
			return v, true
		}
	}
	return "", false
}

// Fields splits a comma separated payload, honoring quotes and parentheses,
// and strips the quotes from each field.
func Fields(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		nesting int
	)
	flush := func() {
		out = append(out, strings.TrimSpace(cur.String()))
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			continue
		case quoted:
		case r == '(':
			nesting++
		case r == ')':
			nesting--
		case r == ',' && nesting == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	if s != "" {
		flush()
	}
	return out
}

// List parses a parenthesized list such as ("IRA","GSM","UCS2") or (0-3,5).
// Numeric ranges are expanded.
func List(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	var out []string
	for _, f := range Fields(s) {
		if f == "" {
			continue
		}
		if lo, hi, ok := parseRange(f); ok {
			for i := lo; i <= hi; i++ {
				out = append(out, strconv.Itoa(i))
			}
			continue
		}
		out = append(out, f)
	}
	return out
}

func parseRange(s string) (lo, hi int, ok bool) {
	a, b, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	lo, err1 := strconv.Atoi(a)
	hi, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || hi < lo || hi-lo > 1024 {
		return 0, 0, false
	}
	return lo, hi, true
}

// Quote wraps s in double quotes for use as a command argument.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}
