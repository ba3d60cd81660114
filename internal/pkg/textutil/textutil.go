package textutil

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ligatures = strings.NewReplacer(
	"ﬀ", "ff",
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	" ", " ",
	"​", "",
	"\uFEFF", "",
)

var (
	trailingSpaceRE = regexp.MustCompile(`[ \t]+\n`)
	manyNewlinesRE  = regexp.MustCompile(`\n{3,}`)
	spaceRunRE      = regexp.MustCompile(`[ \t]{2,}`)
)

// CleanText normalizes extracted prose: valid UTF-8, LF line endings, no
// ligatures or zero-width characters, at most one blank line in a row.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, " ")
	}
	s = ligatures.Replace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRunRE.ReplaceAllString(s, " ")
	s = trailingSpaceRE.ReplaceAllString(s, "\n")
	s = manyNewlinesRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var unsafeNameRE = regexp.MustCompile(`[^\w.\-가-힣]+`)

// SafeFilename strips everything outside [\w.-] and Hangul syllables, and
// caps the result at 100 runes. Empty results fall back to "file".
func SafeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = unsafeNameRE.ReplaceAllString(name, "")
	runes := []rune(name)
	if len(runes) > 100 {
		name = string(runes[:100])
	}
	if name == "" || strings.Trim(name, ".") == "" {
		return "file"
	}
	return name
}

var (
	bomUTF8    = []byte{0xef, 0xbb, 0xbf}
	bomUTF16BE = []byte{0xfe, 0xff}
	bomUTF16LE = []byte{0xff, 0xfe}
)

// DecodeText turns raw uploaded bytes into a UTF-8 string. BOMs win, then
// valid UTF-8 as-is, then EUC-KR, then a lossy UTF-8 repair as the last
// resort. Legacy Korean HWP exports and Windows text files are the reason
// EUC-KR sits in the chain.
func DecodeText(b []byte) (string, error) {
	switch {
	case bytes.HasPrefix(b, bomUTF8):
		return string(b[len(bomUTF8):]), nil
	case bytes.HasPrefix(b, bomUTF16BE):
		return decodeWith(b[len(bomUTF16BE):], unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM))
	case bytes.HasPrefix(b, bomUTF16LE):
		return decodeWith(b[len(bomUTF16LE):], unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM))
	}

	if utf8.Valid(b) {
		return string(b), nil
	}

	if s, err := decodeWith(b, korean.EUCKR); err == nil && utf8.ValidString(s) {
		return s, nil
	}

	return strings.ToValidUTF8(string(b), " "), nil
}

func decodeWith(b []byte, enc encoding.Encoding) (string, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// TrimMiddle keeps the first and last half of s when it exceeds max runes,
// joined by an ellipsis line. Long fragments keep their head (headings,
// captions) and tail (totals, conclusions), which carry most of the signal.
func TrimMiddle(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	half := max / 2
	return string(runes[:half]) + "...\n" + string(runes[len(runes)-half:])
}

// RowSentence renders one table row as the canonical retrieval sentence
// "Table: {caption} | H1=v1; H2=v2; ...". The same inputs always produce the
// same bytes, so re-ingesting a table yields identical fragment content.
func RowSentence(caption string, headers []string, row []string) string {
	parts := make([]string, 0, len(headers))
	for i, h := range headers {
		v := ""
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		parts = append(parts, fmt.Sprintf("%s=%s", strings.TrimSpace(h), v))
	}
	return fmt.Sprintf("Table: %s | %s", strings.TrimSpace(caption), strings.Join(parts, "; "))
}

var numericCellRE = regexp.MustCompile(`^([\d.,+-]+)\s*([A-Za-z%]*)$`)

// NormalizeCell parses a cell into {value?, unit?, raw}. Non-numeric cells
// keep only raw.
func NormalizeCell(raw string) map[string]any {
	out := map[string]any{"raw": raw}
	m := numericCellRE.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return out
	}
	num := strings.ReplaceAll(m[1], ",", "")
	if v, err := strconv.ParseFloat(num, 64); err == nil {
		out["value"] = v
	}
	if m[2] != "" {
		out["unit"] = m[2]
	}
	return out
}

// NormalizeRow builds the per-header normalized sidecar for a row.
func NormalizeRow(headers []string, row []string) map[string]any {
	out := make(map[string]any, len(headers))
	for i, h := range headers {
		v := ""
		if i < len(row) {
			v = row[i]
		}
		key := strings.TrimSpace(h)
		if key == "" {
			continue
		}
		out[key] = NormalizeCell(v)
	}
	return out
}
