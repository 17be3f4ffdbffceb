package document

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// extractedName matches pdfcpu image dumps: <base>_<page>_<id>.<ext>.
var extractedName = regexp.MustCompile(`_(\d+)_[^_]+\.[A-Za-z0-9]+$`)

// LoadPDF extracts the embedded page images of a scanned PDF. When a page
// carries several images the largest one is taken as the page scan.
func LoadPDF(path, pageRange string) ([]Page, error) {
	pageNumbers, err := ParsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "invoxtract-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var selected []string
	for _, n := range pageNumbers {
		selected = append(selected, strconv.Itoa(n))
	}

	if err := extractImages(path, tempDir, selected); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	byPage, err := collectExtractedImages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	if len(byPage) == 0 {
		return nil, fmt.Errorf("%w: %s contains no page images", ErrNoPages, path)
	}

	numbers := make([]int, 0, len(byPage))
	for n := range byPage {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	pages := make([]Page, 0, len(numbers))
	for _, n := range numbers {
		pages = append(pages, Page{Number: n, Image: largest(byPage[n]), Source: path})
	}
	return pages, nil
}

// extractImages guards against panics raised by pdfcpu on malformed input.
func extractImages(path, dir string, pages []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while extracting PDF images: %v", r)
		}
	}()
	return api.ExtractImagesFile(path, dir, pages, nil)
}

func largest(imgs []image.Image) image.Image {
	var best image.Image
	bestArea := -1
	for _, img := range imgs {
		b := img.Bounds()
		if a := b.Dx() * b.Dy(); a > bestArea {
			best, bestArea = img, a
		}
	}
	return best
}

// collectExtractedImages walks dir and groups decodable images by page number.
func collectExtractedImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil {
			return nil
		}
		img, _, err := decodeFile(path)
		if err != nil {
			return nil
		}
		result[pageNum] = append(result[pageNum], img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parsePageFromFilename accepts page_<n>_... and <base>_<n>_<id>.<ext>.
func parsePageFromFilename(filename string) (int, error) {
	if rest, ok := strings.CutPrefix(filename, "page_"); ok {
		num, _, _ := strings.Cut(rest, "_")
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, errors.New("invalid page number")
		}
		return n, nil
	}
	m := extractedName.FindStringSubmatch(filename)
	if m == nil {
		return 0, errors.New("not a page image")
	}
	return strconv.Atoi(m[1])
}

// ParsePageRange parses "1-5" or "1,3,5". An empty string selects all pages.
func ParsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	for part := range strings.SplitSeq(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", lo)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", hi)
		}
		if start < 1 || start > end {
			return nil, fmt.Errorf("invalid page range %d-%d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil || page < 1 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
