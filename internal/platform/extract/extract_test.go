package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// noContents marks a page written without a /Contents entry.
const noContents = "\x00"

// buildPDF assembles a minimal single-font PDF with one text line per page.
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	var offsets []int

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	fontID := 3 + 2*len(pages)
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	for i, text := range pages {
		contents := fmt.Sprintf(" /Contents %d 0 R", 4+2*i)
		if text == noContents {
			contents, text = "", ""
		}
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >>%s >>", fontID, contents))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fakeOCR struct {
	text  string
	err   error
	input []byte
	calls int
}

func (f *fakeOCR) Text(_ context.Context, png []byte) (string, error) {
	f.calls++
	f.input = png
	return f.text, f.err
}

type countingRecorder struct {
	counts map[string]int
}

func (r *countingRecorder) ExtractionFailed(kind string) {
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[kind]++
}

func TestKindFromExtension(t *testing.T) {
	cases := []struct {
		ext     string
		want    Kind
		wantErr bool
	}{
		{"pdf", KindPDF, false},
		{".PDF", KindPDF, false},
		{"png", KindImage, false},
		{"jpg", KindImage, false},
		{" JPEG ", KindImage, false},
		{"gif", "", true},
		{"", "", true},
		{"pdf.exe", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.ext, func(t *testing.T) {
			got, err := KindFromExtension(tc.ext)
			if tc.wantErr {
				if !errors.Is(err, ErrUnsupportedExtension) {
					t.Fatalf("expected ErrUnsupportedExtension, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestPDFText_PagesInOrder(t *testing.T) {
	text, err := PDFText(buildPDF("BP 120/80", "HR 72 bpm"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := strings.Index(text, "BP 120/80")
	second := strings.Index(text, "HR 72 bpm")
	if first < 0 || second < 0 {
		t.Fatalf("expected both pages in text, got %q", text)
	}
	if first > second {
		t.Errorf("pages out of order: %q", text)
	}
}

func TestPDFText_BlankPages(t *testing.T) {
	tests := []struct {
		name   string
		middle string
	}{
		{"empty text", ""},
		{"no contents", noContents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := PDFText(buildPDF("BP 120/80", tt.middle, "HR 72 bpm"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			first := strings.Index(text, "BP 120/80")
			last := strings.Index(text, "HR 72 bpm")
			if first < 0 || last < 0 || first > last {
				t.Fatalf("expected outer pages in order, got %q", text)
			}
			if strings.TrimSpace(text[first+len("BP 120/80"):last]) != "" {
				t.Errorf("blank page contributed text: %q", text)
			}
		})
	}
}

func TestPDFText_PageBoundarySeparatesValues(t *testing.T) {
	text, err := PDFText(buildPDF("BP 140", "/90"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "140/90") {
		t.Errorf("values from adjacent pages merged: %q", text)
	}
	if !strings.Contains(text, "140\n/90") {
		t.Errorf("expected a line break between pages, got %q", text)
	}
}

func TestPDFText_Invalid(t *testing.T) {
	if _, err := PDFText([]byte("definitely not a pdf")); err == nil {
		t.Error("expected error for non-pdf input")
	}
}

func TestBinarize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255}) // white
	img.Set(1, 0, color.RGBA{R: 150, G: 150, B: 150, A: 255}) // exactly threshold
	img.Set(2, 0, color.RGBA{R: 10, G: 10, B: 10, A: 255})    // near black

	out := Binarize(img, 150)

	want := []uint8{255, 0, 0}
	for x, w := range want {
		if got := out.GrayAt(x, 0).Y; got != w {
			t.Errorf("pixel %d: expected %d, got %d", x, w, got)
		}
	}
}

func TestPrepareImage_JPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}

	out, err := PrepareImage(buf.Bytes(), DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a png: %v", err)
	}
	if _, ok := decoded.(*image.Gray); !ok {
		t.Errorf("expected grayscale output, got %T", decoded)
	}
}

func TestExtractor_PDF(t *testing.T) {
	rec := &countingRecorder{}
	e := NewExtractor(nil, zerolog.Nop(), WithFailureRecorder(rec))

	text := e.Extract(context.Background(), RawDocument{Content: buildPDF("Cholesterol 180 mg/dL"), Kind: KindPDF})
	if !strings.Contains(text, "Cholesterol 180 mg/dL") {
		t.Errorf("unexpected text %q", text)
	}
	if len(rec.counts) != 0 {
		t.Errorf("expected no failures, got %v", rec.counts)
	}
}

func TestExtractor_PDFFailureDegrades(t *testing.T) {
	rec := &countingRecorder{}
	e := NewExtractor(nil, zerolog.Nop(), WithFailureRecorder(rec))

	text := e.Extract(context.Background(), RawDocument{Content: []byte("%PDF-1.4 truncated"), Kind: KindPDF})
	if text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
	if rec.counts["pdf"] != 1 {
		t.Errorf("expected one pdf failure, got %v", rec.counts)
	}
}

func TestExtractor_Image(t *testing.T) {
	ocr := &fakeOCR{text: "HR 110 bpm"}
	e := NewExtractor(ocr, zerolog.Nop(), WithThreshold(100))

	src := image.NewGray(image.Rect(0, 0, 2, 2))
	text := e.Extract(context.Background(), RawDocument{Content: encodePNG(t, src), Kind: KindImage})

	if text != "HR 110 bpm" {
		t.Errorf("expected OCR text, got %q", text)
	}
	if ocr.calls != 1 {
		t.Fatalf("expected one OCR call, got %d", ocr.calls)
	}
	if _, err := png.Decode(bytes.NewReader(ocr.input)); err != nil {
		t.Errorf("OCR input should be a png: %v", err)
	}
}

func TestExtractor_ImageFailures(t *testing.T) {
	src := encodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1)))

	cases := []struct {
		name    string
		ocr     OCR
		content []byte
	}{
		{"undecodable image", &fakeOCR{text: "unused"}, []byte("not an image")},
		{"ocr error", &fakeOCR{err: errors.New("tesseract crashed")}, src},
		{"no ocr engine", nil, src},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &countingRecorder{}
			e := NewExtractor(tc.ocr, zerolog.Nop(), WithFailureRecorder(rec))

			if text := e.FromImage(context.Background(), tc.content); text != "" {
				t.Errorf("expected empty text, got %q", text)
			}
			if rec.counts["image"] != 1 {
				t.Errorf("expected one image failure, got %v", rec.counts)
			}
		})
	}
}

type panickingOCR struct{}

func (panickingOCR) Text(context.Context, []byte) (string, error) { panic("boom") }

func TestExtractor_RecoversFromPanic(t *testing.T) {
	rec := &countingRecorder{}
	e := NewExtractor(panickingOCR{}, zerolog.Nop(), WithFailureRecorder(rec))

	src := encodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1)))
	if text := e.FromImage(context.Background(), src); text != "" {
		t.Errorf("expected empty text after panic, got %q", text)
	}
	if rec.counts["image"] != 1 {
		t.Errorf("expected panic to be counted, got %v", rec.counts)
	}
}

func TestExtractor_UnknownKind(t *testing.T) {
	e := NewExtractor(&fakeOCR{}, zerolog.Nop())
	if text := e.Extract(context.Background(), RawDocument{Kind: "docx"}); text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
}
