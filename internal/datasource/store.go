package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
)

// Querier is the subset of pgxpool.Pool behavior the Store depends on.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const pgForeignKeyViolation = "23503"

// Store manages data source persistence.
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

const dataSourceColumns = "id, knowledge_base_id, name, kind, config, created_at, updated_at, deleted_at"

// CreateParams configures Create.
type CreateParams struct {
	KBID   int64
	Name   string
	Kind   Kind
	Config []byte
}

// Create creates a data source after validating its config payload.
func (s *Store) Create(ctx context.Context, params CreateParams) (*DataSource, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("data source name must not be empty")
	}
	if err := ValidateConfig(params.Kind, params.Config); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO data_sources (knowledge_base_id, name, kind, config)
		 VALUES ($1, $2, $3, $4) RETURNING `+dataSourceColumns,
		params.KBID, name, string(params.Kind), params.Config)

	ds, err := scanDataSource(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("knowledge base %d: %w", params.KBID, knowledge.ErrKnowledgeBaseNotFound)
		}
		return nil, fmt.Errorf("creating data source %q: %w", name, err)
	}

	s.logger.Debug("created data source", "id", ds.ID, "kb_id", ds.KBID, "kind", ds.Kind)
	return ds, nil
}

// Get retrieves a data source by ID. Soft-deleted sources are not found.
func (s *Store) Get(ctx context.Context, id int64) (*DataSource, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+dataSourceColumns+` FROM data_sources WHERE id = $1 AND deleted_at IS NULL`, id)

	ds, err := scanDataSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("data source %d: %w", id, ErrDataSourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting data source %d: %w", id, err)
	}
	return ds, nil
}

// List lists a knowledge base's live data sources, newest first.
func (s *Store) List(ctx context.Context, kbID int64) ([]*DataSource, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+dataSourceColumns+` FROM data_sources
		 WHERE knowledge_base_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("listing data sources for knowledge base %d: %w", kbID, err)
	}
	defer rows.Close()

	var sources []*DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning data source: %w", err)
		}
		sources = append(sources, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing data sources for knowledge base %d: %w", kbID, err)
	}
	return sources, nil
}

// SoftDelete marks a data source deleted. The row is kept; document purge
// runs separately in the ingestion worker.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE data_sources SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("deleting data source %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("data source %d: %w", id, ErrDataSourceNotFound)
	}

	s.logger.Debug("soft-deleted data source", "id", id)
	return nil
}

func scanDataSource(row pgx.Row) (*DataSource, error) {
	var (
		kind                 string
		createdAt, updatedAt pgtype.Timestamptz
		deletedAt            pgtype.Timestamptz
		ds                   DataSource
	)
	if err := row.Scan(&ds.ID, &ds.KBID, &ds.Name, &kind, &ds.Config,
		&createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	ds.Kind = Kind(kind)
	ds.CreatedAt = createdAt.Time
	ds.UpdatedAt = updatedAt.Time
	if deletedAt.Valid {
		t := deletedAt.Time
		ds.DeletedAt = &t
	}
	return &ds, nil
}
