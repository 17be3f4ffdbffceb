// Package document loads invoice pages from image files and scanned PDFs.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// ErrNoPages is returned when a document yields no decodable page.
var ErrNoPages = errors.New("no pages found")

// ErrUnsupportedFormat is returned for files no decoder understands.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Page is one raster page of an input document.
type Page struct {
	Number int
	Image  image.Image
	Source string
	Format string
}

// Load reads path as a PDF (by extension) or as a single raster image.
// pageRange applies to PDFs only.
func Load(path, pageRange string) ([]Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	if IsPDF(path) {
		pages, err := LoadPDF(path, pageRange)
		if err != nil {
			return nil, err
		}
		for i := range pages {
			pages[i].Format = "pdf"
		}
		return pages, nil
	}

	img, format, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: 1, Image: img, Source: path, Format: format}}, nil
}

// IsPDF reports whether path names a PDF file.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Decode decodes a raster image from r.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeBytes decodes a raster image held in memory.
func DecodeBytes(data []byte) (image.Image, string, error) {
	return Decode(bytes.NewReader(data))
}

func decodeFile(path string) (image.Image, string, error) {
	file, err := os.Open(path) //nolint:gosec // G304: reading user-provided document path is expected
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	img, format, err := Decode(file)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return img, format, nil
}
