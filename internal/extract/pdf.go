package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// Keep pdfcpu from creating a config directory in the user's home.
	api.DisableConfigDir()
}

// PDF validates and counts pages with pdfcpu and reads text with
// ledongthuc/pdf.
type PDF struct {
	conf *model.Configuration
}

func NewPDF() *PDF {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDF{conf: conf}
}

func (p *PDF) open(data []byte) (*model.Context, error) {
	pctx, err := api.ReadContext(bytes.NewReader(data), p.conf)
	if err != nil {
		return nil, p.classify(err)
	}
	if pctx.Encrypt != nil {
		return nil, domain.ErrEncryptedDocument
	}
	if err := api.ValidateContext(pctx); err != nil {
		return nil, p.classify(err)
	}
	return pctx, nil
}

func (p *PDF) classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") {
		return domain.ErrEncryptedDocument.Wrap(err)
	}
	return domain.ErrUnreadableFile.Wrap(err)
}

func (p *PDF) CountPages(_ context.Context, data []byte) (int, error) {
	pctx, err := p.open(data)
	if err != nil {
		return 0, err
	}
	return pctx.PageCount, nil
}

// Extract returns the text of every page, decoded through each font's
// encoding and ToUnicode map. Pages without text yield empty strings.
func (p *PDF) Extract(ctx context.Context, data []byte) ([]string, error) {
	pctx, err := p.open(data)
	if err != nil {
		return nil, err
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, p.classify(err)
	}

	pages := make([]string, 0, pctx.PageCount)
	for i := 1; i <= pctx.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(r, i)
		if err != nil {
			return nil, domain.ErrUnreadableFile.Wrap(fmt.Errorf("page %d: %w", i, err))
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// pageText reads one page. The reader panics on some malformed objects
// that pdfcpu's relaxed validation lets through.
func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	return normalizeText(text), nil
}

// normalizeText collapses runs of blanks, trims lines and drops empty ones.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
