package ingestion

import (
	"path/filepath"
	"strings"
)

// Kind is the coarse document class the pipeline dispatches on.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindOffice  Kind = "office"
	KindText    Kind = "text"
	KindHWPX    Kind = "hwpx"
	KindHWP     Kind = "hwp"
	KindImage   Kind = "image"
	KindUnknown Kind = "unknown"
)

// FragmentType is the type column value stored on fragments of this kind.
// Image uploads are rejected before ingestion, so KindImage has no mapping.
func (k Kind) FragmentType() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindOffice:
		return "office"
	case KindText:
		return "text"
	case KindHWPX:
		return "hwpx"
	case KindHWP:
		return "hwp"
	}
	return ""
}

// ClassifyKind picks the document class from the original filename, the
// client-declared MIME type, and the first bytes of the payload. The
// extension wins for the Korean formats since browsers rarely send a
// useful MIME type for .hwp/.hwpx.
func ClassifyKind(name, mime string, head []byte) Kind {
	m := strings.ToLower(strings.TrimSpace(mime))
	ext := strings.ToLower(filepath.Ext(name))

	if ext == ".hwpx" {
		return KindHWPX
	}
	if ext == ".hwp" {
		return KindHWP
	}
	if m == "application/pdf" || ext == ".pdf" || isPDFHeader(head) {
		return KindPDF
	}
	switch ext {
	case ".docx", ".doc", ".pptx", ".ppt", ".xlsx", ".xls":
		return KindOffice
	}
	if strings.Contains(m, "wordprocessingml") || strings.Contains(m, "presentationml") ||
		strings.Contains(m, "spreadsheetml") || m == "application/msword" ||
		m == "application/vnd.ms-powerpoint" || m == "application/vnd.ms-excel" {
		return KindOffice
	}
	if strings.HasPrefix(m, "image/") || ext == ".png" || ext == ".jpg" || ext == ".jpeg" ||
		ext == ".webp" || ext == ".gif" || ext == ".bmp" || ext == ".tiff" {
		return KindImage
	}
	if strings.HasPrefix(m, "text/") || ext == ".txt" || ext == ".md" {
		return KindText
	}
	return KindUnknown
}

func isPDFHeader(b []byte) bool {
	if len(b) < 5 {
		return false
	}
	return string(b[:5]) == "%PDF-"
}
