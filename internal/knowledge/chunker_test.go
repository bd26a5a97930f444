package knowledge

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewChunkerRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int32
		overlap int32
	}{
		{name: "zero size", size: 0, overlap: 0},
		{name: "negative size", size: -1, overlap: 0},
		{name: "negative overlap", size: 100, overlap: -1},
		{name: "overlap equals size", size: 100, overlap: 100},
		{name: "overlap above size", size: 100, overlap: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(&KnowledgeBase{ChunkSize: tt.size, ChunkOverlap: tt.overlap})
			if !errors.Is(err, ErrInvalidChunking) {
				t.Errorf("NewChunker(size=%d, overlap=%d) = %v, want ErrInvalidChunking",
					tt.size, tt.overlap, err)
			}
		})
	}
}

func TestChunkerSplit(t *testing.T) {
	c, err := NewChunker(&KnowledgeBase{ChunkSize: 50, ChunkOverlap: 10})
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	content := strings.TrimSpace(strings.Repeat("the tide rises and the tide falls ", 30))
	chunks, err := c.Split(content, "text/plain")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want the content split into several", len(chunks))
	}
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			t.Errorf("chunk %d is blank", i)
		}
		if n := utf8.RuneCountInString(chunk); n > 50 {
			t.Errorf("chunk %d is %d runes, want <= 50", i, n)
		}
	}
}

func TestChunkerSplitShortContent(t *testing.T) {
	c, err := NewChunker(&KnowledgeBase{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap})
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	chunks, err := c.Split("a single short paragraph", "text/plain")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != "a single short paragraph" {
		t.Errorf("chunk = %q, want content unchanged", chunks[0])
	}
}

func TestChunkerSplitDropsBlankChunks(t *testing.T) {
	c, err := NewChunker(&KnowledgeBase{ChunkSize: 10, ChunkOverlap: 0})
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	chunks, err := c.Split("word\n\n\n\n\n\nanother", "text/plain")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			t.Errorf("chunk %d is blank, blank chunks must be dropped", i)
		}
	}
}

func TestChunkerSplitMarkdownKeepsSections(t *testing.T) {
	c, err := NewChunker(&KnowledgeBase{ChunkSize: 60, ChunkOverlap: 0})
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	content := "# Tides\nWater level rises and falls twice a day.\n" +
		"# Currents\nTidal currents follow the rise and fall."
	chunks, err := c.Split(content, "text/markdown")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want the headings split apart", len(chunks))
	}

	joined := strings.Join(chunks, "\n")
	for _, keyword := range []string{"Tides", "Currents", "twice a day", "rise and fall"} {
		if !strings.Contains(joined, keyword) {
			t.Errorf("chunks lost %q", keyword)
		}
	}
}
