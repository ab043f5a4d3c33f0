package charset

import (
	"fmt"
	"strings"
)

// gsmEscape selects the extension table for the following septet.
const gsmEscape = 0x1b

// gsmBasic is the GSM 03.38 default alphabet, one septet per rune.
var gsmBasic = [128]rune{
	'@', '£', '$', '¥', 'è', 'é', 'ù', 'ì', 'ò', 'Ç', '\n', 'Ø', 'ø', '\r', 'Å', 'å',
	'Δ', '_', 'Φ', 'Γ', 'Λ', 'Ω', 'Π', 'Ψ', 'Σ', 'Θ', 'Ξ', 0x1b, 'Æ', 'æ', 'ß', 'É',
	' ', '!', '"', '#', '¤', '%', '&', '\'', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'¡', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', 'Ä', 'Ö', 'Ñ', 'Ü', '§',
	'¿', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', 'ä', 'ö', 'ñ', 'ü', 'à',
}

var gsmExtension = map[byte]rune{
	0x0a: '\f',
	0x14: '^',
	0x28: '{',
	0x29: '}',
	0x2f: '\\',
	0x3c: '[',
	0x3d: '~',
	0x3e: ']',
	0x40: '|',
	0x65: '€',
}

var (
	gsmBasicIndex     = map[rune]byte{}
	gsmExtensionIndex = map[rune]byte{}
)

func init() {
	for i, r := range gsmBasic {
		if i != gsmEscape {
			gsmBasicIndex[r] = byte(i)
		}
	}
	for b, r := range gsmExtension {
		gsmExtensionIndex[r] = b
	}
}

// encodeGSM returns s as unpacked septets, one per byte.
func encodeGSM(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := gsmBasicIndex[r]; ok {
			out = append(out, b)
			continue
		}
		if b, ok := gsmExtensionIndex[r]; ok {
			out = append(out, gsmEscape, b)
			continue
		}
		return nil, fmt.Errorf("rune %q has no GSM 7-bit encoding", r)
	}
	return out, nil
}

// decodeGSM converts unpacked septets to UTF-8. An escape followed by a
// septet without an extension mapping decodes as the default character.
func decodeGSM(b []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c >= 0x80 {
			return "", fmt.Errorf("byte 0x%02x at offset %d is not a septet", c, i)
		}
		if c != gsmEscape {
			sb.WriteRune(gsmBasic[c])
			continue
		}
		i++
		if i == len(b) {
			return "", fmt.Errorf("dangling escape at offset %d", i-1)
		}
		next := b[i]
		if next >= 0x80 {
			return "", fmt.Errorf("byte 0x%02x at offset %d is not a septet", next, i)
		}
		if r, ok := gsmExtension[next]; ok {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(gsmBasic[next])
		}
	}
	return sb.String(), nil
}
