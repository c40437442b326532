package tabular

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// toUTF8 strips a byte order mark and converts UTF-16 or Windows-1252 text to
// UTF-8. It returns the name of the detected encoding.
func toUTF8(data []byte) ([]byte, string, error) {
	var dec *encoding.Decoder
	name := "utf-8"

	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], "utf-8-bom", nil
	case bytes.HasPrefix(data, bomUTF16LE):
		dec = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		name = "utf-16le"
	case bytes.HasPrefix(data, bomUTF16BE):
		dec = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		name = "utf-16be"
	case utf8.Valid(data):
		return data, name, nil
	default:
		// Spreadsheet tools on Windows save CSV in the ANSI code page.
		dec = charmap.Windows1252.NewDecoder()
		name = "windows-1252"
	}

	out, err := dec.Bytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", name, err)
	}
	return out, name, nil
}
