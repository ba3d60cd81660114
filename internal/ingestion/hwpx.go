package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/docqa-backend/internal/platform/parser"
)

var hwpxSectionRE = regexp.MustCompile(`^Contents/section(\d+)\.xml$`)

// extractHWPX pulls paragraph text out of an HWPX archive. HWPX is a
// zip of OWPML parts; body text lives in Contents/section<N>.xml as
// <hp:t> runs. Tables are surfaced as structure-less stubs so the
// receipt can report them even though OWPML cell parsing stays out of
// the bridge path.
func extractHWPX(data []byte) (string, []parser.Table, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("open hwpx container: %w", err)
	}

	type section struct {
		n int
		f *zip.File
	}
	var sections []section
	for _, f := range zr.File {
		m := hwpxSectionRE.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		sections = append(sections, section{n: n, f: f})
	}
	if len(sections) == 0 {
		return "", nil, fmt.Errorf("no Contents/section*.xml in archive")
	}
	// Numeric order; lexicographic would put section10 before section2.
	sort.Slice(sections, func(i, j int) bool { return sections[i].n < sections[j].n })

	var (
		text   strings.Builder
		tables []parser.Table
	)
	for _, s := range sections {
		rc, err := s.f.Open()
		if err != nil {
			return "", nil, fmt.Errorf("open %s: %w", s.f.Name, err)
		}
		nTables, err := scanHWPXSection(rc, &text)
		rc.Close()
		if err != nil {
			return "", nil, fmt.Errorf("parse %s: %w", s.f.Name, err)
		}
		for i := 0; i < nTables; i++ {
			tables = append(tables, parser.Table{Source: "hwpx"})
		}
	}
	return text.String(), tables, nil
}

// scanHWPXSection walks one section document, appending the text of
// <t> runs and a newline per closed paragraph. Elements are matched by
// local name; the namespace prefix varies between producers.
func scanHWPXSection(r io.Reader, out *strings.Builder) (int, error) {
	dec := xml.NewDecoder(r)
	depth := 0
	tables := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return tables, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				depth++
			case "tbl":
				tables++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				if depth > 0 {
					depth--
				}
			case "p":
				out.WriteString("\n")
			}
		case xml.CharData:
			if depth > 0 {
				out.Write([]byte(t))
			}
		}
	}
	return tables, nil
}
