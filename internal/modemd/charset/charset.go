// Package charset converts strings between UTF-8 and the character set a
// modem was configured with through AT+CSCS.
package charset

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/modemd/internal/mm"
)

var ucs2 = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

func byteEncoding(cs mm.Charset) encoding.Encoding {
	switch cs {
	case mm.Charset8859_1:
		return charmap.ISO8859_1
	case mm.CharsetPCCP437:
		return charmap.CodePage437
	case mm.CharsetPCDN:
		return charmap.CodePage865
	}
	return nil
}

// Encode converts s into the representation cs uses on the wire. UCS2 text
// is hex encoded.
func Encode(cs mm.Charset, s string) (string, error) {
	switch cs {
	case mm.CharsetUTF8:
		return s, nil
	case mm.CharsetIRA:
		for i := 0; i < len(s); i++ {
			if s[i] >= utf8.RuneSelf {
				return "", mm.Errorf(mm.KindInvalidArgs, "%q is not representable in IRA", s)
			}
		}
		return s, nil
	case mm.CharsetGSM:
		b, err := encodeGSM(s)
		if err != nil {
			return "", mm.Wrap(mm.KindInvalidArgs, err, "not representable in GSM")
		}
		return string(b), nil
	case mm.CharsetUCS2:
		b, err := ucs2.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return "", mm.Wrap(mm.KindInvalidArgs, err, "not representable in UCS2")
		}
		return strings.ToUpper(hex.EncodeToString(b)), nil
	}
	if enc := byteEncoding(cs); enc != nil {
		out, err := enc.NewEncoder().String(s)
		if err != nil {
			return "", mm.Wrap(mm.KindInvalidArgs, err, "not representable in "+cs.Name())
		}
		return out, nil
	}
	return "", mm.Errorf(mm.KindUnsupported, "charset %s not supported", cs)
}

// Decode converts s from the representation cs uses on the wire to UTF-8.
func Decode(cs mm.Charset, s string) (string, error) {
	switch cs {
	case mm.CharsetUTF8, mm.CharsetIRA:
		return s, nil
	case mm.CharsetGSM:
		out, err := decodeGSM([]byte(s))
		if err != nil {
			return "", mm.Wrap(mm.KindFailed, err, "invalid GSM string")
		}
		return out, nil
	case mm.CharsetUCS2:
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw)%2 != 0 {
			return "", mm.Errorf(mm.KindFailed, "invalid UCS2 string %q", s)
		}
		b, err := ucs2.NewDecoder().Bytes(raw)
		if err != nil {
			return "", mm.Wrap(mm.KindFailed, err, "invalid UCS2 string")
		}
		return string(b), nil
	}
	if enc := byteEncoding(cs); enc != nil {
		out, err := enc.NewDecoder().String(s)
		if err != nil {
			return "", mm.Wrap(mm.KindFailed, err, "invalid "+cs.Name()+" string")
		}
		return out, nil
	}
	return "", mm.Errorf(mm.KindUnsupported, "charset %s not supported", cs)
}

// DecodeLenient decodes s but returns it unchanged when it is not valid in
// cs. Many modems report operator names in IRA regardless of AT+CSCS.
func DecodeLenient(cs mm.Charset, s string) string {
	if cs == mm.CharsetUCS2 && (len(s)%4 != 0 || !isHex(s)) {
		return s
	}
	out, err := Decode(cs, s)
	if err != nil || !utf8.ValidString(out) {
		return s
	}
	return out
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
