package textutil

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

func TestCleanText(t *testing.T) {
	in := "제1장ﬁrst   line  \r\nsecond line\r\n\r\n\r\n\r\n끝"
	got := CleanText(in)
	want := "제1장first line\nsecond line\n\n끝"
	if got != want {
		t.Fatalf("got=%q want=%q", got, want)
	}

	if CleanText("") != "" {
		t.Fatalf("empty input changed")
	}

	// Invalid UTF-8 bytes become spaces instead of poisoning the string.
	got = CleanText("ab\xffcd")
	if !strings.Contains(got, "ab") || !strings.Contains(got, "cd") {
		t.Fatalf("got=%q", got)
	}
}

func TestSafeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"보고서 최종(v2).pdf", "보고서최종v2.pdf"},
		{"a b/c\\d:e.txt", "abcde.txt"},
		{"///", "file"},
		{"...", "file"},
		{"report.pdf", "report.pdf"},
	}
	for _, c := range cases {
		if got := SafeFilename(c.in); got != c.want {
			t.Fatalf("SafeFilename(%q)=%q want %q", c.in, got, c.want)
		}
	}

	long := strings.Repeat("가", 150) + ".txt"
	if got := SafeFilename(long); len([]rune(got)) != 100 {
		t.Fatalf("long name kept %d runes", len([]rune(got)))
	}
}

func TestDecodeText(t *testing.T) {
	if got, err := DecodeText([]byte("\xef\xbb\xbfhello")); err != nil || got != "hello" {
		t.Fatalf("utf8 bom: %q %v", got, err)
	}

	if got, err := DecodeText([]byte("그냥 UTF-8")); err != nil || got != "그냥 UTF-8" {
		t.Fatalf("plain utf8: %q %v", got, err)
	}

	euckr, _, err := transform.Bytes(korean.EUCKR.NewEncoder(), []byte("한글 문서"))
	if err != nil {
		t.Fatalf("encode euc-kr: %v", err)
	}
	if got, err := DecodeText(euckr); err != nil || got != "한글 문서" {
		t.Fatalf("euc-kr: %q %v", got, err)
	}

	// UTF-16LE with BOM.
	utf16le := []byte{0xff, 0xfe, 'h', 0, 'i', 0}
	if got, err := DecodeText(utf16le); err != nil || got != "hi" {
		t.Fatalf("utf16le: %q %v", got, err)
	}
}

func TestTrimMiddle(t *testing.T) {
	short := "짧은 내용"
	if got := TrimMiddle(short, 1600); got != short {
		t.Fatalf("short changed: %q", got)
	}

	long := strings.Repeat("가", 2000)
	got := TrimMiddle(long, 1600)
	if !strings.Contains(got, "...\n") {
		t.Fatalf("no ellipsis: %q", got[:40])
	}
	runes := []rune(got)
	if len(runes) != 800+4+800 {
		t.Fatalf("trimmed length=%d", len(runes))
	}
	if string(runes[:800]) != strings.Repeat("가", 800) {
		t.Fatalf("head mangled")
	}
}

func TestRowSentenceDeterministic(t *testing.T) {
	headers := []string{"항목", "금액", "비고"}
	row := []string{"매출", "1,234", ""}

	a := RowSentence("분기 실적", headers, row)
	b := RowSentence("분기 실적", headers, row)
	if a != b {
		t.Fatalf("not deterministic: %q vs %q", a, b)
	}
	want := "Table: 분기 실적 | 항목=매출; 금액=1,234; 비고="
	if a != want {
		t.Fatalf("got=%q want=%q", a, want)
	}

	// Short rows leave trailing headers empty instead of failing.
	short := RowSentence("c", []string{"a", "b"}, []string{"1"})
	if short != "Table: c | a=1; b=" {
		t.Fatalf("short row: %q", short)
	}
}

func TestNormalizeCell(t *testing.T) {
	got := NormalizeCell("1,234.5 kg")
	if got["value"] != 1234.5 || got["unit"] != "kg" || got["raw"] != "1,234.5 kg" {
		t.Fatalf("got=%v", got)
	}

	got = NormalizeCell("85%")
	if got["value"] != 85.0 || got["unit"] != "%" {
		t.Fatalf("got=%v", got)
	}

	got = NormalizeCell("비고 없음")
	if _, ok := got["value"]; ok {
		t.Fatalf("text cell grew a value: %v", got)
	}
	if got["raw"] != "비고 없음" {
		t.Fatalf("raw=%v", got["raw"])
	}

	got = NormalizeCell("-12.5")
	if got["value"] != -12.5 {
		t.Fatalf("negative: %v", got)
	}
	if _, ok := got["unit"]; ok {
		t.Fatalf("unexpected unit: %v", got)
	}
}

func TestNormalizeRow(t *testing.T) {
	out := NormalizeRow([]string{"금액", "", "단위"}, []string{"100", "skip", "EA"})
	if len(out) != 2 {
		t.Fatalf("len=%d out=%v", len(out), out)
	}
	cell, ok := out["금액"].(map[string]any)
	if !ok || cell["value"] != 100.0 {
		t.Fatalf("금액=%v", out["금액"])
	}
}
