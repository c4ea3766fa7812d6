// Package textenc decodes byte streams produced by stage processes into Go strings.
//
// Stage scripts are written by different people on different platforms, so their
// stdout, stderr and artifacts arrive as UTF-8, UTF-8 with a BOM, or UTF-16 with a BOM.
// Decoding is permissive: invalid sequences become U+FFFD and never fail the caller.
package textenc

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decode converts raw bytes to a valid UTF-8 string.
// A leading BOM selects UTF-8 or UTF-16 (LE/BE); without one the input is read as UTF-8.
func Decode(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, b)
	if err != nil {
		// The UTF-8 decoder replaces rather than fails; this only guards transformer bugs.
		return strings.ToValidUTF8(string(bytes.TrimPrefix(b, utf8BOM)), "�")
	}
	return string(out)
}

// DecodeString is Decode for text that was already converted to a string unchecked.
func DecodeString(s string) string {
	return Decode([]byte(s))
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}
