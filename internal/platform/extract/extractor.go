package extract

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// OCR recognises text in a PNG image.
type OCR interface {
	Text(ctx context.Context, png []byte) (string, error)
}

// FailureRecorder counts extraction failures by document kind.
type FailureRecorder interface {
	ExtractionFailed(kind string)
}

type nopRecorder struct{}

func (nopRecorder) ExtractionFailed(string) {}

// Extractor turns a RawDocument into text, degrading to "" on any failure.
type Extractor struct {
	ocr       OCR
	threshold uint8
	logger    zerolog.Logger
	failures  FailureRecorder
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t uint8) Option {
	return func(e *Extractor) { e.threshold = t }
}

// WithFailureRecorder reports failures to r.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(e *Extractor) { e.failures = r }
}

// NewExtractor builds an Extractor. ocr may be nil, in which case every image
// yields "".
func NewExtractor(ocr OCR, logger zerolog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		ocr:       ocr,
		threshold: DefaultThreshold,
		logger:    logger,
		failures:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract dispatches on doc.Kind. It never returns an error.
func (e *Extractor) Extract(ctx context.Context, doc RawDocument) string {
	switch doc.Kind {
	case KindPDF:
		return e.FromPDF(doc.Content)
	case KindImage:
		return e.FromImage(ctx, doc.Content)
	default:
		e.fail(string(doc.Kind), fmt.Errorf("unknown document kind %q", doc.Kind))
		return ""
	}
}

// FromPDF returns the page-concatenated text of a PDF, or "" on failure.
func (e *Extractor) FromPDF(content []byte) (text string) {
	defer e.recoverInto(KindPDF, &text)

	text, err := PDFText(content)
	if err != nil {
		e.fail(string(KindPDF), err)
		return ""
	}
	return text
}

// FromImage binarises the image and runs OCR, or returns "" on failure.
func (e *Extractor) FromImage(ctx context.Context, content []byte) (text string) {
	defer e.recoverInto(KindImage, &text)

	if e.ocr == nil {
		e.fail(string(KindImage), fmt.Errorf("no OCR engine configured"))
		return ""
	}

	prepared, err := PrepareImage(content, e.threshold)
	if err != nil {
		e.fail(string(KindImage), err)
		return ""
	}

	text, err = e.ocr.Text(ctx, prepared)
	if err != nil {
		e.fail(string(KindImage), fmt.Errorf("ocr: %w", err))
		return ""
	}
	return text
}

func (e *Extractor) recoverInto(kind Kind, text *string) {
	if r := recover(); r != nil {
		e.fail(string(kind), fmt.Errorf("panic: %v", r))
		*text = ""
	}
}

func (e *Extractor) fail(kind string, err error) {
	e.failures.ExtractionFailed(kind)
	e.logger.Warn().Err(err).Str("kind", kind).Msg("text extraction failed")
}
