// Package pipeline moves conversion rows from a warehouse table to an
// advertising platform: read and normalize rows, gate on table freshness,
// partition into batches, then publish them to a queue or upload them.
//
// Every collaborator sits behind a narrow interface so runs stay stateless;
// two runs over disjoint batches share nothing.
package pipeline

import (
	"context"
	"errors"

	"conversionupload/models"
)

var (
	// ErrInvalidConfig marks a missing or malformed destination identifier.
	// Runs that hit it abort before doing any work.
	ErrInvalidConfig = errors.New("invalid upload configuration")

	// ErrTableNotFound is returned by a Warehouse when the table does not exist.
	ErrTableNotFound = errors.New("table not found")
)

// Row is one raw warehouse row keyed by column name.
type Row map[string]interface{}

// RowIterator walks the rows of a table. Next returns io.EOF after the last row.
// An iterator that holds a connection also implements io.Closer; readers close
// it when they stop, whether or not the rows were exhausted.
type RowIterator interface {
	Next() (Row, error)
}

// Warehouse is the read side of the data warehouse.
type Warehouse interface {
	GetTable(ctx context.Context, ref models.TableRef) (*models.TableMetadata, error)
	ListRows(ctx context.Context, ref models.TableRef) (RowIterator, error)
}

// Queue delivers an encoded message to a named destination and returns the
// id the broker assigned to it.
type Queue interface {
	Publish(ctx context.Context, destination string, data []byte) (string, error)
}

// Platform is the request-shaping strategy of one advertising platform.
type Platform interface {
	Name() string
	// ValidateConfig rejects configs the platform cannot upload with.
	ValidateConfig(cfg *models.UploadConfig) error
	// CheckRecord rejects a record the platform cannot represent.
	CheckRecord(record models.ConversionRecord, cfg *models.UploadConfig) error
	// Insert submits one batch and returns the platform's reply.
	Insert(ctx context.Context, batch models.Batch, cfg *models.UploadConfig) (*models.BatchResponse, error)
}
