// Package tesseract adapts libtesseract (through gosseract) to the
// extract.OCR port.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Client runs OCR with a fresh tesseract handle per call; handles are not
// safe to share between goroutines.
type Client struct {
	language string
}

// New returns a Client for the given tesseract language code ("eng" if empty).
func New(language string) *Client {
	if language == "" {
		language = "eng"
	}
	return &Client{language: language}
}

// Text implements extract.OCR.
func (c *Client) Text(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(c.language); err != nil {
		return "", fmt.Errorf("set language %q: %w", c.language, err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognise text: %w", err)
	}
	return text, nil
}
