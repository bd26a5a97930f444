package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/tidegraph/tidegraph/internal/log"
)

// Querier is the subset of pgxpool.Pool behavior the Store depends on.
// Interfaces are defined by the consumer, not the provider; *pgxpool.Pool
// satisfies this, and tests can substitute a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Default chunking configuration for new knowledge bases. The overlap is
// 10% of the chunk size.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// DefaultTopK is the result count Search falls back to when the caller
// passes a non-positive topK.
const DefaultTopK = 5

// searchTimeout caps vector search queries so a slow index scan cannot
// stall a chat stream.
const searchTimeout = 10 * time.Second

// PostgreSQL error codes the store maps to sentinel errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store manages knowledge bases, documents and chunk vectors.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     Querier
	logger log.Logger
}

// NewStore creates a Store. A nil logger falls back to slog's default.
func NewStore(db Querier, logger log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	return &Store{db: db, logger: logger}
}

const kbColumns = "id, name, description, chunk_size, chunk_overlap, created_at, updated_at"

// CreateKnowledgeBaseParams configures CreateKnowledgeBase. Leaving both
// chunk parameters zero selects DefaultChunkSize and DefaultChunkOverlap.
type CreateKnowledgeBaseParams struct {
	Name         string
	Description  string
	ChunkSize    int32
	ChunkOverlap int32
}

// CreateKnowledgeBase creates a knowledge base. The overlap must stay
// below the chunk size.
func (s *Store) CreateKnowledgeBase(ctx context.Context, params CreateKnowledgeBaseParams) (*KnowledgeBase, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("knowledge base name must not be empty")
	}

	size, overlap := params.ChunkSize, params.ChunkOverlap
	if size == 0 && overlap == 0 {
		size, overlap = DefaultChunkSize, DefaultChunkOverlap
	}
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size %d, overlap %d", ErrInvalidChunking, size, overlap)
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO knowledge_bases (name, description, chunk_size, chunk_overlap)
		 VALUES ($1, $2, $3, $4) RETURNING `+kbColumns,
		name, params.Description, size, overlap)

	kb, err := scanKnowledgeBase(row)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge base %q: %w", name, err)
	}

	s.logger.Debug("created knowledge base", "id", kb.ID, "name", kb.Name)
	return kb, nil
}

// GetKnowledgeBase retrieves a knowledge base by ID.
func (s *Store) GetKnowledgeBase(ctx context.Context, id int64) (*KnowledgeBase, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE id = $1`, id)

	kb, err := scanKnowledgeBase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("knowledge base %d: %w", id, ErrKnowledgeBaseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting knowledge base %d: %w", id, err)
	}
	return kb, nil
}

// ListKnowledgeBases lists all knowledge bases with their document and
// chunk counters, newest first.
func (s *Store) ListKnowledgeBases(ctx context.Context) ([]*Overview, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+prefixColumns("kb", kbColumns)+`,
		       (SELECT COUNT(*) FROM documents d WHERE d.knowledge_base_id = kb.id),
		       (SELECT COUNT(*) FROM chunks c JOIN documents d ON d.id = c.document_id
		        WHERE d.knowledge_base_id = kb.id)
		FROM knowledge_bases kb
		ORDER BY kb.created_at DESC, kb.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}
	defer rows.Close()

	var overviews []*Overview
	for rows.Next() {
		o, err := scanOverview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning knowledge base: %w", err)
		}
		overviews = append(overviews, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}
	return overviews, nil
}

// Overview returns one knowledge base with its document and chunk counters.
func (s *Store) Overview(ctx context.Context, id int64) (*Overview, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+prefixColumns("kb", kbColumns)+`,
		       (SELECT COUNT(*) FROM documents d WHERE d.knowledge_base_id = kb.id),
		       (SELECT COUNT(*) FROM chunks c JOIN documents d ON d.id = c.document_id
		        WHERE d.knowledge_base_id = kb.id)
		FROM knowledge_bases kb
		WHERE kb.id = $1`, id)

	o, err := scanOverview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("knowledge base %d: %w", id, ErrKnowledgeBaseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting knowledge base overview %d: %w", id, err)
	}
	return o, nil
}

// DeleteKnowledgeBase deletes a knowledge base and all its documents and
// chunks (CASCADE).
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting knowledge base %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("knowledge base %d: %w", id, ErrKnowledgeBaseNotFound)
	}

	s.logger.Debug("deleted knowledge base", "id", id)
	return nil
}

const documentColumns = "id, knowledge_base_id, data_source_id, name, hash, mime_type, source_uri, content, index_status, index_error, created_at, updated_at"

// CreateDocumentParams describes a document to import. The content hash is
// computed by the store.
type CreateDocumentParams struct {
	KBID         int64
	DataSourceID *int64
	Name         string
	MimeType     string
	SourceURI    string
	Content      string
}

// ContentHash returns the hex SHA-256 of content, the per-knowledge-base
// document identity used for import deduplication.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CreateDocument inserts a document in status IndexPending. An import
// whose content hash already exists in the same knowledge base is rejected
// with ErrDuplicateDocument.
func (s *Store) CreateDocument(ctx context.Context, params CreateDocumentParams) (*Document, error) {
	if strings.TrimSpace(params.Content) == "" {
		return nil, fmt.Errorf("document %q has no content", params.Name)
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO documents (knowledge_base_id, data_source_id, name, hash, mime_type, source_uri, content, index_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+documentColumns,
		params.KBID, params.DataSourceID, params.Name, ContentHash(params.Content),
		params.MimeType, params.SourceURI, params.Content, string(IndexPending))

	doc, err := scanDocument(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return nil, fmt.Errorf("document %q in knowledge base %d: %w",
					params.Name, params.KBID, ErrDuplicateDocument)
			case pgForeignKeyViolation:
				return nil, fmt.Errorf("knowledge base %d: %w", params.KBID, ErrKnowledgeBaseNotFound)
			}
		}
		return nil, fmt.Errorf("creating document %q: %w", params.Name, err)
	}

	s.logger.Debug("created document",
		"id", doc.ID, "kb_id", doc.KBID, "name", doc.Name, "content_length", len(doc.Content))
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %d: %w", id, err)
	}
	return doc, nil
}

// ListDocuments lists a knowledge base's documents, newest first. A
// non-empty status restricts the listing to that index status.
func (s *Store) ListDocuments(ctx context.Context, kbID int64, status IndexStatus) ([]*Document, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIndexStatus, status)
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE knowledge_base_id = $1`
	args := []any{kbID}
	if status != "" {
		query += ` AND index_status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents for knowledge base %d: %w", kbID, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents for knowledge base %d: %w", kbID, err)
	}
	return docs, nil
}

// DeleteDocument deletes a document and its chunks (CASCADE).
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, ErrDocumentNotFound)
	}

	s.logger.Debug("deleted document", "id", id)
	return nil
}

// PurgeDataSourceDocuments deletes every document imported from a data
// source, with their chunks (CASCADE). It returns the number of documents
// removed.
func (s *Store) PurgeDataSourceDocuments(ctx context.Context, dataSourceID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE data_source_id = $1`, dataSourceID)
	if err != nil {
		return 0, fmt.Errorf("purging documents for data source %d: %w", dataSourceID, err)
	}

	n := tag.RowsAffected()
	s.logger.Debug("purged data source documents", "data_source_id", dataSourceID, "documents", n)
	return n, nil
}

// SetIndexStatus moves a document to the given pipeline status. The error
// message is stored only for IndexFailed and cleared otherwise.
func (s *Store) SetIndexStatus(ctx context.Context, docID int64, status IndexStatus, indexErr string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidIndexStatus, status)
	}
	if status != IndexFailed {
		indexErr = ""
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET index_status = $2, index_error = $3, updated_at = now() WHERE id = $1`,
		docID, string(status), indexErr)
	if err != nil {
		return fmt.Errorf("setting index status for document %d: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", docID, ErrDocumentNotFound)
	}

	s.logger.Debug("document index status", "id", docID, "status", status)
	return nil
}

// ReplaceChunks atomically swaps a document's chunks for the given set.
// Ordinals are renumbered from 1 in slice order; chunk IDs are assigned by
// the database.
func (s *Store) ReplaceChunks(ctx context.Context, docID int64, chunks []Chunk) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting chunks for document %d: %w", docID, err)
	}

	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		batch.Queue(
			`INSERT INTO chunks (document_id, ordinal, text, embedding) VALUES ($1, $2, $3, $4)`,
			docID, int32(i+1), chunk.Text, chunk.Embedding)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("document %d: %w", docID, ErrDocumentNotFound)
		}
		return fmt.Errorf("inserting %d chunks for document %d: %w", len(chunks), docID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunks for document %d: %w", docID, err)
	}

	s.logger.Debug("replaced chunks", "document_id", docID, "chunks", len(chunks))
	return nil
}

// Search returns the topK chunks of a knowledge base closest to the query
// vector by cosine distance, joined with their document metadata. Only
// documents in status completed participate. The query is capped at
// searchTimeout.
func (s *Store) Search(ctx context.Context, kbID int64, query []float32, topK int32) ([]Hit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector", ErrEmptyEmbedding)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	rows, err := s.db.Query(queryCtx, `
		SELECT c.id, c.document_id, c.ordinal, c.text,
		       d.name, d.source_uri,
		       (1 - (c.embedding <=> $2))::float4 AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.knowledge_base_id = $1 AND d.index_status = $3
		ORDER BY c.embedding <=> $2
		LIMIT $4`,
		kbID, pgvector.NewVector(query), string(IndexCompleted), topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("searching knowledge base %d: %w", kbID, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			id  pgtype.UUID
			hit Hit
		)
		err := rows.Scan(&id, &hit.Chunk.DocumentID, &hit.Chunk.Ordinal, &hit.Chunk.Text,
			&hit.DocumentName, &hit.SourceURI, &hit.Similarity)
		if err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hit.Chunk.ID = fromPgUUID(id)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("searching knowledge base %d: %w", kbID, err)
	}

	s.logger.Debug("vector search", "kb_id", kbID, "top_k", topK, "hits", len(hits))
	return hits, nil
}

// SearchAll is Search without a knowledge-base filter: the topK completed
// chunks across every knowledge base. Used by the answer engine, whose chats
// are not bound to a single knowledge base.
func (s *Store) SearchAll(ctx context.Context, query []float32, topK int32) ([]Hit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector", ErrEmptyEmbedding)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	rows, err := s.db.Query(queryCtx, `
		SELECT c.id, c.document_id, c.ordinal, c.text,
		       d.name, d.source_uri,
		       (1 - (c.embedding <=> $1))::float4 AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.index_status = $2
		ORDER BY c.embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(query), string(IndexCompleted), topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("searching all knowledge bases: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			id  pgtype.UUID
			hit Hit
		)
		err := rows.Scan(&id, &hit.Chunk.DocumentID, &hit.Chunk.Ordinal, &hit.Chunk.Text,
			&hit.DocumentName, &hit.SourceURI, &hit.Similarity)
		if err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hit.Chunk.ID = fromPgUUID(id)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("searching all knowledge bases: %w", err)
	}

	s.logger.Debug("vector search", "top_k", topK, "hits", len(hits))
	return hits, nil
}

func scanKnowledgeBase(row pgx.Row) (*KnowledgeBase, error) {
	var (
		createdAt, updatedAt pgtype.Timestamptz
		kb                   KnowledgeBase
	)
	if err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.ChunkSize, &kb.ChunkOverlap,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	kb.CreatedAt = createdAt.Time
	kb.UpdatedAt = updatedAt.Time
	return &kb, nil
}

func scanOverview(row pgx.Row) (*Overview, error) {
	var (
		createdAt, updatedAt pgtype.Timestamptz
		o                    Overview
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Description, &o.ChunkSize, &o.ChunkOverlap,
		&createdAt, &updatedAt, &o.DocumentsTotal, &o.ChunksTotal); err != nil {
		return nil, err
	}
	o.CreatedAt = createdAt.Time
	o.UpdatedAt = updatedAt.Time
	return &o, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var (
		dataSourceID         pgtype.Int8
		status               string
		createdAt, updatedAt pgtype.Timestamptz
		d                    Document
	)
	if err := row.Scan(&d.ID, &d.KBID, &dataSourceID, &d.Name, &d.Hash, &d.MimeType,
		&d.SourceURI, &d.Content, &status, &d.IndexError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if dataSourceID.Valid {
		v := dataSourceID.Int64
		d.DataSourceID = &v
	}
	d.IndexStatus = IndexStatus(status)
	d.CreatedAt = createdAt.Time
	d.UpdatedAt = updatedAt.Time
	return &d, nil
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias for use in joins.
func prefixColumns(alias, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// fromPgUUID converts pgtype.UUID to uuid.UUID.
func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
