// Package extract pulls raw text out of uploaded health documents.
//
// PDFs are read page by page. Images are converted to grayscale, binarised
// with a fixed luminance threshold and handed to an OCR engine. Extraction
// never fails the caller: any decode or OCR error yields an empty string.
package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedExtension is returned for file types outside pdf|png|jpg|jpeg.
var ErrUnsupportedExtension = errors.New("unsupported file extension")

// Kind selects the extraction path.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

// AllowedExtensions maps accepted upload extensions to their extraction path.
var AllowedExtensions = map[string]Kind{
	"pdf":  KindPDF,
	"png":  KindImage,
	"jpg":  KindImage,
	"jpeg": KindImage,
}

// RawDocument is an uploaded file held in memory for one request.
type RawDocument struct {
	Content []byte
	Kind    Kind
}

// KindFromExtension accepts "pdf", ".PDF", "jpeg" and so on.
func KindFromExtension(ext string) (Kind, error) {
	norm := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	kind, ok := AllowedExtensions[norm]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return kind, nil
}
