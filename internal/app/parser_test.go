package app

import (
	"strings"
	"testing"
)

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("a", 25)
	chunks := chunkText(text, 10, 4)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4: %v", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 10) {
		t.Fatalf("first chunk = %q", chunks[0])
	}
	// step = size - overlap = 6, so the last chunk starts at 18.
	if chunks[3] != strings.Repeat("a", 7) {
		t.Fatalf("last chunk = %q", chunks[3])
	}
}

func TestChunkTextIsDeterministic(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. " + strings.Repeat("word ", 100)
	a := chunkText(text, 50, 10)
	b := chunkText(text, 50, 10)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestChunkTextEdgeCases(t *testing.T) {
	if got := chunkText("", 10, 2); got != nil {
		t.Fatalf("empty text: %v", got)
	}
	if got := chunkText("abc", 0, 0); got != nil {
		t.Fatalf("zero size: %v", got)
	}
	// Overlap >= size falls back to non-overlapping steps.
	got := chunkText(strings.Repeat("x", 20), 10, 10)
	if len(got) != 2 {
		t.Fatalf("degenerate overlap: %v", got)
	}
}

func TestChunkTextHandlesMultibyte(t *testing.T) {
	text := strings.Repeat("文", 15)
	chunks := chunkText(text, 10, 0)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("文", 10) || chunks[1] != strings.Repeat("文", 5) {
		t.Fatalf("rune boundaries broken: %q, %q", chunks[0], chunks[1])
	}
}

func TestNormalizeText(t *testing.T) {
	in := "  hello\x00world\n\n  spaced\tout  "
	want := "hello world spaced out"
	if got := normalizeText(in); got != want {
		t.Fatalf("normalizeText = %q, want %q", got, want)
	}
	if got := normalizeText("   "); got != "" {
		t.Fatalf("whitespace only = %q", got)
	}
}

func TestLooksLikePDF(t *testing.T) {
	if !looksLikePDF([]byte("%PDF-1.7\n...")) {
		t.Fatal("valid header rejected")
	}
	if looksLikePDF([]byte("PK\x03\x04 zip not pdf")) {
		t.Fatal("non-PDF accepted")
	}
}
