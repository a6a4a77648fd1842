package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const maxReviewBytes = 1 << 20 // 1MB

// readReview loads review text from a plain-text, markdown or PDF file.
func readReview(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return readPDFText(path)
	case ".txt", ".md", "":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening review: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxReviewBytes))
		if err != nil {
			return "", fmt.Errorf("reading review: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported review file %s: want .txt, .md or .pdf", filepath.Base(path))
	}
}

func readPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(text, maxReviewBytes))
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return strings.Join(strings.Fields(string(data)), " "), nil
}
