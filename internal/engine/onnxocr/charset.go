package onnxocr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Charset maps recognizer class indices to text. Index 0 is the CTC blank,
// so class i decodes to Tokens[i-1]; the class after the last token is a
// space, as in PP-OCR dictionaries.
type Charset struct {
	Tokens []string
}

// LoadCharset reads a dictionary file with one token per non-empty line.
func LoadCharset(path string) (*Charset, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: dictionary path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer func() { _ = f.Close() }()

	cs, err := ParseCharset(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

// ParseCharset reads dictionary tokens from r.
func ParseCharset(r io.Reader) (*Charset, error) {
	scanner := bufio.NewScanner(r)
	tokens := make([]string, 0, 512)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if line == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading dictionary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, errors.New("dictionary is empty")
	}
	return &Charset{Tokens: tokens}, nil
}

// Classes is the recognizer output width the charset expects.
func (c *Charset) Classes() int { return len(c.Tokens) + 2 }

// Lookup returns the text for a class index, or "" for the blank and
// out-of-range indices.
func (c *Charset) Lookup(class int) string {
	switch {
	case class <= 0:
		return ""
	case class <= len(c.Tokens):
		return c.Tokens[class-1]
	case class == len(c.Tokens)+1:
		return " "
	default:
		return ""
	}
}
