package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFText returns the plain text of every page in order, one page per line
// so a reading cannot run across a page boundary. A page whose text cannot
// be read contributes an empty line.
func PDFText(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, r.NumPage())
	for i := range pages {
		pages[i] = pageText(r.Page(i + 1))
	}
	return strings.Join(pages, "\n"), nil
}

func pageText(p pdf.Page) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	if p.V.IsNull() {
		return ""
	}
	t, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return t
}
