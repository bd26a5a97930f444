package datasource

import "errors"

// Sentinel errors for data source operations, checked with errors.Is().
var (
	// ErrDataSourceNotFound indicates the requested data source does not
	// exist or is soft-deleted.
	ErrDataSourceNotFound = errors.New("data source not found")

	// ErrUploadNotFound indicates the requested upload does not exist.
	ErrUploadNotFound = errors.New("upload not found")

	// ErrInvalidConfig indicates a config payload that does not match the
	// data source kind.
	ErrInvalidConfig = errors.New("invalid data source config")

	// ErrUnsupportedMimeType indicates an upload of a type the indexing
	// pipeline cannot extract text from.
	ErrUnsupportedMimeType = errors.New("unsupported mime type")

	// ErrUploadTooLarge indicates an upload above the configured size cap.
	ErrUploadTooLarge = errors.New("upload too large")

	// ErrUnsupportedContent indicates a fetched page whose content type the
	// loaders cannot extract text from.
	ErrUnsupportedContent = errors.New("unsupported content type")
)
