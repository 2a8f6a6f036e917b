package attachment

import (
	"bytes"
	"fmt"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// Previewer inspects uploaded PDFs: page counts for the attachment list
// and a first-page PNG for inline preview. Non-PDF uploads get neither.
type Previewer struct {
	logger *zap.Logger
}

// NewPreviewer creates a new PDF previewer
func NewPreviewer(logger *zap.Logger) *Previewer {
	return &Previewer{logger: logger}
}

// IsPDF reports whether the file name looks like a PDF
func IsPDF(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".pdf")
}

// PageCount returns the number of pages of a stored PDF. A broken or
// unreadable PDF yields nil; the upload itself stays valid.
func (p *Previewer) PageCount(storedPath string) *int {
	doc, err := fitz.New(storedPath)
	if err != nil {
		p.logger.Warn("Failed to open PDF for page count",
			zap.String("path", storedPath),
			zap.Error(err))
		return nil
	}
	defer doc.Close()

	count := doc.NumPage()
	return &count
}

// FirstPagePNG renders the first page of a stored PDF as PNG
func (p *Previewer) FirstPagePNG(storedPath string) ([]byte, error) {
	doc, err := fitz.New(storedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
