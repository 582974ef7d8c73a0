package splitter

import (
	"strings"
	"testing"
)

func TestSplitTextChunksLongInput(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(100, 20)

	text := strings.Repeat("Evidence paragraphs describing market growth. ", 20)
	chunks, err := ts.SplitText(text)
	if err != nil {
		t.Fatalf("SplitText() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want multiple chunks for long input", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 120 {
			t.Errorf("chunk %d length = %d, want near the configured size", i, len(c))
		}
	}
}

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(1000, 200)

	chunks, err := ts.SplitText("short description")
	if err != nil {
		t.Fatalf("SplitText() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "short description" {
		t.Errorf("chunks = %v, want the input unchanged", chunks)
	}
}
