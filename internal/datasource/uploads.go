package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tidegraph/tidegraph/internal/log"
)

// Upload is one staged file awaiting import through a file data source.
type Upload struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultMaxUploadSize caps staged files at 10 MiB.
const DefaultMaxUploadSize = 10 << 20

// uploadExtensions is the MIME allowlist. Only types the loaders can
// extract text from are staged.
var uploadExtensions = map[string]string{
	"text/plain":    ".txt",
	"text/markdown": ".md",
	"text/html":     ".html",
}

// ValidateUploadType reports whether a MIME type is accepted for staging.
func ValidateUploadType(mimeType string) error {
	if _, ok := uploadExtensions[normalizeMime(mimeType)]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedMimeType, mimeType)
	}
	return nil
}

// normalizeMime strips parameters such as charset and lowercases the type.
func normalizeMime(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	return mt
}

// Uploads stages files on local disk and records their metadata. Content
// is stored under its SHA-256 name, so identical files share one blob.
//
// Uploads is safe for concurrent use, including across processes: first
// writes of a blob serialize on a flock and land via temp file + rename.
type Uploads struct {
	db      Querier
	dir     string
	maxSize int64
	logger  log.Logger
}

// NewUploads creates an Uploads store rooted at dir, creating the
// directory if needed. maxSize <= 0 selects DefaultMaxUploadSize.
func NewUploads(db Querier, dir string, maxSize int64, logger log.Logger) (*Uploads, error) {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Uploads{db: db, dir: dir, maxSize: maxSize, logger: logger}, nil
}

const uploadColumns = "id, name, size, path, mime_type, created_at"

// Save stages one file: content is read up to the size cap, written under
// its SHA-256 name and recorded with its metadata. File data sources
// reference the returned Upload by ID.
func (u *Uploads) Save(ctx context.Context, name, mimeType string, r io.Reader) (*Upload, error) {
	mt := normalizeMime(mimeType)
	ext, ok := uploadExtensions[mt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMimeType, mimeType)
	}

	content, err := io.ReadAll(io.LimitReader(r, u.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload %q: %w", name, err)
	}
	if int64(len(content)) > u.maxSize {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrUploadTooLarge, name, u.maxSize)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("upload %q is empty", name)
	}

	sum := sha256.Sum256(content)
	relPath := hex.EncodeToString(sum[:]) + ext
	if err := u.writeBlob(relPath, content); err != nil {
		return nil, err
	}

	row := u.db.QueryRow(ctx,
		`INSERT INTO uploads (name, size, path, mime_type) VALUES ($1, $2, $3, $4)
		 RETURNING `+uploadColumns,
		name, int64(len(content)), relPath, mt)

	up, err := scanUpload(row)
	if err != nil {
		return nil, fmt.Errorf("recording upload %q: %w", name, err)
	}

	u.logger.Debug("staged upload", "id", up.ID, "name", up.Name, "size", up.Size)
	return up, nil
}

// Get retrieves upload metadata by ID.
func (u *Uploads) Get(ctx context.Context, id int64) (*Upload, error) {
	row := u.db.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id)

	up, err := scanUpload(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("upload %d: %w", id, ErrUploadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting upload %d: %w", id, err)
	}
	return up, nil
}

// Open opens an upload's staged content for reading.
func (u *Uploads) Open(up *Upload) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(u.dir, up.Path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("upload %d blob %q: %w", up.ID, up.Path, ErrUploadNotFound)
		}
		return nil, fmt.Errorf("opening upload %d: %w", up.ID, err)
	}
	return f, nil
}

// writeBlob writes a content blob once; a later save of identical content
// finds the file already present and skips the write.
func (u *Uploads) writeBlob(relPath string, content []byte) error {
	dst := filepath.Join(u.dir, relPath)

	lock := flock.New(dst + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking upload blob: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			u.logger.Debug("unlocking upload blob", "error", err)
		}
	}()

	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking upload blob: %w", err)
	}

	tmp, err := os.CreateTemp(u.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing upload blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing upload blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("publishing upload blob: %w", err)
	}
	return nil
}

func scanUpload(row pgx.Row) (*Upload, error) {
	var (
		createdAt pgtype.Timestamptz
		up        Upload
	)
	if err := row.Scan(&up.ID, &up.Name, &up.Size, &up.Path, &up.MimeType, &createdAt); err != nil {
		return nil, err
	}
	up.CreatedAt = createdAt.Time
	return &up, nil
}
