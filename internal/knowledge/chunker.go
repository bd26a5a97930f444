package knowledge

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Separator ladders for the recursive character splitter. Markdown content
// splits on heading boundaries first so chunks keep section context.
var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// Chunker splits document content into overlapping chunks sized by a
// knowledge base's chunking configuration.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker from a knowledge base's configuration.
func NewChunker(kb *KnowledgeBase) (*Chunker, error) {
	size, overlap := int(kb.ChunkSize), int(kb.ChunkOverlap)
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size %d, overlap %d", ErrInvalidChunking, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split splits content into chunk texts in source order. The MIME type
// selects the separator ladder; whitespace-only chunks are dropped.
func (c *Chunker) Split(content, mimeType string) ([]string, error) {
	separators := defaultSeparators
	if mimeType == "text/markdown" {
		separators = markdownSeparators
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.size),
		textsplitter.WithChunkOverlap(c.overlap),
		textsplitter.WithSeparators(separators),
	)

	parts, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("splitting content: %w", err)
	}

	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	return chunks, nil
}
