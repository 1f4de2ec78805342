package app

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

type documentChunk struct {
	Content  string
	Metadata map[string]string
}

// extractPDF pulls plain text out of a PDF page by page and slices it
// into overlapping chunks. Pages that fail to parse are skipped; the
// chunk index is global so ordering survives skipped pages.
func extractPDF(data []byte, chunkSize, overlap int) (int, []documentChunk, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, nil, fmt.Errorf("open pdf: %w", err)
	}
	totalPages := reader.NumPage()
	var chunks []documentChunk
	idx := 0
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely.
			continue
		}
		for _, part := range chunkText(normalizeText(text), chunkSize, overlap) {
			chunks = append(chunks, documentChunk{
				Content: part,
				Metadata: map[string]string{
					"page":  strconv.Itoa(i),
					"chunk": strconv.Itoa(idx),
				},
			})
			idx++
		}
	}
	if len(chunks) == 0 {
		return totalPages, nil, fmt.Errorf("no text extracted from pdf")
	}
	return totalPages, chunks, nil
}

// pdfPageCount returns the page count, or an error when the bytes do
// not parse as a PDF. Callers treat failures as "unknown", not fatal.
func pdfPageCount(data []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

// looksLikePDF checks the magic header.
func looksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
