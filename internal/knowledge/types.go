package knowledge

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// IndexStatus tracks a document through the indexing pipeline.
type IndexStatus string

const (
	IndexNotStarted IndexStatus = "not_started"
	IndexPending    IndexStatus = "pending"
	IndexRunning    IndexStatus = "running"
	IndexCompleted  IndexStatus = "completed"
	IndexFailed     IndexStatus = "failed"
)

// Valid reports whether s is a known index status.
func (s IndexStatus) Valid() bool {
	switch s {
	case IndexNotStarted, IndexPending, IndexRunning, IndexCompleted, IndexFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a pipeline endpoint.
func (s IndexStatus) Terminal() bool {
	return s == IndexCompleted || s == IndexFailed
}

// KnowledgeBase groups documents under one chunking configuration.
type KnowledgeBase struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ChunkSize    int32     `json:"chunk_size"`
	ChunkOverlap int32     `json:"chunk_overlap"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Document is one indexable unit of content inside a knowledge base.
//
// Hash is the hex SHA-256 of Content and deduplicates imports per
// knowledge base. IndexError holds the failure message while IndexStatus
// is IndexFailed and is empty otherwise.
type Document struct {
	ID           int64       `json:"id"`
	KBID         int64       `json:"knowledge_base_id"`
	DataSourceID *int64      `json:"data_source_id,omitempty"`
	Name         string      `json:"name"`
	Hash         string      `json:"hash"`
	MimeType     string      `json:"mime_type,omitempty"`
	SourceURI    string      `json:"source_uri,omitempty"`
	Content      string      `json:"content,omitempty"`
	IndexStatus  IndexStatus `json:"index_status"`
	IndexError   string      `json:"index_error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Chunk is one embedded slice of a document. Ordinals start at 1 and
// follow the chunk's position in the source content.
type Chunk struct {
	ID         uuid.UUID       `json:"id"`
	DocumentID int64           `json:"document_id"`
	Ordinal    int32           `json:"ordinal"`
	Text       string          `json:"text"`
	Embedding  pgvector.Vector `json:"-"`
}

// Hit is one retrieval result: a chunk, its parent document's metadata and
// the cosine similarity to the query (0 to 1, higher is closer).
type Hit struct {
	Chunk        Chunk   `json:"chunk"`
	DocumentName string  `json:"document_name"`
	SourceURI    string  `json:"source_uri,omitempty"`
	Similarity   float32 `json:"similarity"`
}

// Overview is a knowledge base with its content counters, used by
// listing endpoints.
type Overview struct {
	KnowledgeBase
	DocumentsTotal int64 `json:"documents_total"`
	ChunksTotal    int64 `json:"chunks_total"`
}
