package testutil

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// BuildPDF returns a PDF with one page per entry. Each line of an entry is
// drawn in Helvetica, so entries must be ASCII. An empty entry is a blank
// page.
func BuildPDF(pages ...string) []byte {
	w := &pdfWriter{}
	w.start(len(pages), 1)
	w.obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for _, text := range pages {
		w.page(text, func(line string) string {
			r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
			return "(" + r.Replace(line) + ")"
		})
	}
	return w.finish()
}

// BuildIdentityPDF returns a PDF whose pages are drawn with a Type0 font in
// Identity-H encoding, the way most word processors embed subset fonts. The
// glyph codes bear no relation to the characters; only the font's ToUnicode
// map recovers the text.
func BuildIdentityPDF(pages ...string) []byte {
	var runes []rune
	seen := map[rune]bool{}
	for _, text := range pages {
		for _, r := range text {
			if r != '\n' && !seen[r] {
				seen[r] = true
				runes = append(runes, r)
			}
		}
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	codes := make(map[rune]int, len(runes))
	for i, r := range runes {
		codes[r] = i + 3
	}

	var cmap strings.Builder
	cmap.WriteString("/CIDInit /ProcSet findresource begin\n12 dict begin\nbegincmap\n")
	cmap.WriteString("/CMapName /Adobe-Identity-UCS def\n/CMapType 2 def\n")
	cmap.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	fmt.Fprintf(&cmap, "%d beginbfchar\n", len(runes))
	for _, r := range runes {
		fmt.Fprintf(&cmap, "<%04X> <%04X>\n", codes[r], r)
	}
	cmap.WriteString("endbfchar\nendcmap\nCMapName currentdict /CMap defineresource pop\nend\nend")

	w := &pdfWriter{}
	w.start(len(pages), 4)
	w.obj("<< /Type /Font /Subtype /Type0 /BaseFont /ABCDEF+Sans /Encoding /Identity-H " +
		"/DescendantFonts [4 0 R] /ToUnicode 6 0 R >>")
	w.obj("<< /Type /Font /Subtype /CIDFontType2 /BaseFont /ABCDEF+Sans " +
		"/CIDSystemInfo << /Registry (Adobe) /Ordering (Identity) /Supplement 0 >> " +
		"/FontDescriptor 5 0 R /CIDToGIDMap /Identity >>")
	w.obj("<< /Type /FontDescriptor /FontName /ABCDEF+Sans /Flags 32 /FontBBox [0 -200 1000 900] " +
		"/ItalicAngle 0 /Ascent 900 /Descent -200 /CapHeight 700 /StemV 80 >>")
	w.stream(cmap.String())
	for _, text := range pages {
		w.page(text, func(line string) string {
			var hex strings.Builder
			hex.WriteString("<")
			for _, r := range line {
				fmt.Fprintf(&hex, "%04X", codes[r])
			}
			hex.WriteString(">")
			return hex.String()
		})
	}
	return w.finish()
}

type pdfWriter struct {
	buf       bytes.Buffer
	offsets   []int
	firstPage int
}

// start writes the catalog and page tree. fontObjects is the number of
// objects written between the page tree and the first page.
func (w *pdfWriter) start(pages, fontObjects int) {
	w.firstPage = 3 + fontObjects
	w.buf.WriteString("%PDF-1.4\n")
	w.obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", w.firstPage+2*i)
	}
	w.obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
}

func (w *pdfWriter) obj(body string) int {
	w.offsets = append(w.offsets, w.buf.Len())
	fmt.Fprintf(&w.buf, "%d 0 obj\n%s\nendobj\n", len(w.offsets), body)
	return len(w.offsets)
}

func (w *pdfWriter) stream(data string) int {
	return w.obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(data), data))
}

// page writes a page and its content stream. Every line is its own text
// object, 14pt below the previous one.
func (w *pdfWriter) page(text string, encode func(line string) string) {
	next := len(w.offsets) + 1
	w.obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
		"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", next+1))

	if text == "" {
		w.stream("BT ET")
		return
	}
	var content strings.Builder
	for i, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&content, "BT /F1 12 Tf 72 %d Td %s Tj ET\n", 712-14*i, encode(line))
	}
	w.stream(content.String())
}

func (w *pdfWriter) finish() []byte {
	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n0000000000 65535 f \n", len(w.offsets)+1)
	for _, off := range w.offsets {
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&w.buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(w.offsets)+1, xref)
	return w.buf.Bytes()
}
