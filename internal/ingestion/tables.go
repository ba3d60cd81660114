package ingestion

import (
	"fmt"
	"html"
	"strings"

	xhtml "golang.org/x/net/html"

	"github.com/yungbote/docqa-backend/internal/platform/parser"
)

// mdMaxDataRows caps the Markdown preview; the TSV body keeps every row.
const mdMaxDataRows = 30

// NormalizedTable is the canonical shape every parser table is reduced
// to before indexing: one header row, data rows, and the derived
// bodies persisted for later rendering.
type NormalizedTable struct {
	Header []string
	Rows   [][]string
	TSV    string
	MD     string
	HTML   string
	NRows  int
	NCols  int
}

// normalizeTable reduces a raw sidecar table to its canonical form.
// Source preference: html (then text_as_html), explicit header/rows,
// preview_rows. Returns false when the table carries no usable
// structure, e.g. the image-only stubs some engines emit.
func normalizeTable(t parser.Table) (*NormalizedTable, bool) {
	var (
		header  []string
		rows    [][]string
		rawHTML string
	)

	if h := firstNonEmpty(t.HTML, t.TextAsHTML); h != "" {
		if hdr, rs, ok := parseHTMLTable(h); ok {
			header, rows, rawHTML = hdr, rs, h
		}
	}
	if header == nil && rows == nil {
		switch {
		case len(t.Header) > 0 || len(t.Rows) > 0:
			header = append([]string(nil), t.Header...)
			rows = t.Rows
			if len(header) == 0 {
				header = syntheticHeader(len(rows[0]))
			}
		case len(t.PreviewRows) > 0:
			header = t.PreviewRows[0]
			rows = t.PreviewRows[1:]
		default:
			return nil, false
		}
	}
	if len(header) == 0 {
		return nil, false
	}

	nt := &NormalizedTable{Header: header, Rows: rows}
	nt.NCols = t.NCols
	if nt.NCols == 0 {
		nt.NCols = len(header)
	}
	nt.NRows = t.NRows
	if nt.NRows == 0 {
		nt.NRows = len(rows)
	}
	nt.TSV = renderTSV(header, rows)
	nt.MD = renderMarkdown(header, rows, mdMaxDataRows)
	if rawHTML != "" {
		nt.HTML = rawHTML
	} else {
		nt.HTML = renderHTML(header, rows)
	}
	return nt, true
}

// parseHTMLTable extracts the first-level rows of an HTML table: the
// first <tr> becomes the header, the rest data rows. Rows nested in a
// cell's inner table are not descended into.
func parseHTMLTable(s string) ([]string, [][]string, bool) {
	doc, err := xhtml.Parse(strings.NewReader(s))
	if err != nil {
		return nil, nil, false
	}
	var trs [][]string
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && n.Data == "tr" {
			trs = append(trs, rowCells(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(trs) == 0 {
		return nil, nil, false
	}
	return trs[0], trs[1:], true
}

func rowCells(tr *xhtml.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xhtml.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, collapseWS(nodeText(c)))
		}
	}
	return cells
}

func nodeText(n *xhtml.Node) string {
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

func syntheticHeader(n int) []string {
	h := make([]string, n)
	for i := range h {
		h[i] = fmt.Sprintf("col_%d", i+1)
	}
	return h
}

func flatCell(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

func renderTSV(header []string, rows [][]string) string {
	var b strings.Builder
	line := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(flatCell(c))
		}
		b.WriteByte('\n')
	}
	line(header)
	for _, r := range rows {
		line(r)
	}
	return b.String()
}

func renderMarkdown(header []string, rows [][]string, maxRows int) string {
	esc := func(s string) string {
		return strings.ReplaceAll(flatCell(s), "|", `\|`)
	}
	var b strings.Builder
	b.WriteString("|")
	for _, h := range header {
		b.WriteString(" " + esc(h) + " |")
	}
	b.WriteString("\n|")
	for range header {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	n := len(rows)
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	for _, r := range rows[:n] {
		b.WriteString("|")
		for i := range header {
			var c string
			if i < len(r) {
				c = r[i]
			}
			b.WriteString(" " + esc(c) + " |")
		}
		b.WriteString("\n")
	}
	if n < len(rows) {
		fmt.Fprintf(&b, "... (%d more rows)\n", len(rows)-n)
	}
	return b.String()
}

func renderHTML(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("<table><thead><tr>")
	for _, h := range header {
		b.WriteString("<th>" + html.EscapeString(h) + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, r := range rows {
		b.WriteString("<tr>")
		for _, c := range r {
			b.WriteString("<td>" + html.EscapeString(c) + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}
