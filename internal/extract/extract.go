// Package extract validates uploaded files and pulls their text out page by
// page. PDF, plain text and markdown are supported.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

const (
	MimePDF  = "application/pdf"
	MimeText = "text/plain"
)

var formats = map[string]string{
	"pdf": MimePDF,
	"txt": MimeText,
	"md":  MimeText,
}

// Extractor dispatches on the file extension.
type Extractor struct {
	pdf *PDF
}

func New() *Extractor {
	return &Extractor{pdf: NewPDF()}
}

// Supports reports whether files with this name's extension are accepted.
func (e *Extractor) Supports(filename string) bool {
	_, ok := formats[domain.Extension(filename)]
	return ok
}

// Detect sniffs data and returns its content type. Content that does not
// match the extension is rejected.
func (e *Extractor) Detect(filename string, data []byte) (string, error) {
	want, ok := formats[domain.Extension(filename)]
	if !ok {
		return "", domain.ErrUnsupportedFileType
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(want) {
			if want == MimeText && !utf8.Valid(data) {
				break
			}
			return want, nil
		}
	}
	return "", domain.ErrUnsupportedFileType.Wrap(
		fmt.Errorf("content of %s is %s", filename, detected.String()))
}

// CountPages returns the page count. Text files count as one page.
func (e *Extractor) CountPages(ctx context.Context, filename string, data []byte) (int, error) {
	if formats[domain.Extension(filename)] == MimePDF {
		return e.pdf.CountPages(ctx, data)
	}
	return 1, nil
}

// Extract returns the text of each page.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) ([]string, error) {
	switch formats[domain.Extension(filename)] {
	case MimePDF:
		return e.pdf.Extract(ctx, data)
	case MimeText:
		if !utf8.Valid(data) {
			return nil, domain.ErrUnsupportedFileType.Wrap(fmt.Errorf("%s is not valid UTF-8", filename))
		}
		return []string{strings.ReplaceAll(string(data), "\r\n", "\n")}, nil
	}
	return nil, domain.ErrUnsupportedFileType
}
