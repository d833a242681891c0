package logparse

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// maxControlRatio is the share of non-whitespace control bytes above which
// an upload is treated as binary.
const maxControlRatio = 0.1

// Decode converts uploaded bytes to text. UTF-8 (with or without BOM) and
// BOM-marked UTF-16 are decoded as such; anything else is read as
// Windows-1252, a superset of Latin-1. Binary content is rejected.
func Decode(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", apperrors.NewUploadError("file has a UTF-16 byte order mark but is not valid UTF-16").
				WithCause(err)
		}
		return string(out), nil
	}

	if looksBinary(data) {
		return "", apperrors.NewUploadError("file appears to be binary, not text")
	}

	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM)), nil
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", apperrors.NewUploadError("file is not decodable as text").WithCause(err)
	}
	return string(out), nil
}

func looksBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	control := 0
	for _, b := range data {
		if b < 0x20 && b != '\n' && b != '\r' && b != '\t' && b != '\f' && b != '\v' && b != 0x1b {
			control++
		}
	}
	return float64(control)/float64(len(data)) > maxControlRatio
}
