package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/lib/pq"

	"conversionupload/models"
	"conversionupload/pipeline"
)

// PostgresWarehouse reads conversion tables from Postgres. Postgres keeps no
// creation or modification time per table, so the transformation job records
// them in a metadata table:
//
//	CREATE TABLE table_metadata (
//	    table_schema text, table_name text,
//	    created_at timestamptz, modified_at timestamptz,
//	    PRIMARY KEY (table_schema, table_name)
//	);
type PostgresWarehouse struct {
	db            *sql.DB
	metadataTable string
}

func NewPostgresWarehouse(databaseURL, metadataTable string) (*PostgresWarehouse, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresWarehouse{db: db, metadataTable: metadataTable}, nil
}

// qualified returns the quoted schema.table name; the dataset maps to the schema.
func qualified(ref models.TableRef) string {
	return pq.QuoteIdentifier(ref.Dataset) + "." + pq.QuoteIdentifier(ref.Table)
}

func (w *PostgresWarehouse) GetTable(ctx context.Context, ref models.TableRef) (*models.TableMetadata, error) {
	query := fmt.Sprintf(
		`SELECT created_at, modified_at FROM %s WHERE table_schema = $1 AND table_name = $2`,
		pq.QuoteIdentifier(w.metadataTable),
	)
	meta := &models.TableMetadata{FullID: ref.String()}
	var created, modified sql.NullTime
	err := w.db.QueryRowContext(ctx, query, ref.Dataset, ref.Table).Scan(&created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref, pipeline.ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %s: %w", ref, err)
	}
	meta.Created, meta.Modified = created.Time, modified.Time

	var count int64
	if err := w.db.QueryRowContext(ctx, `SELECT count(*) FROM `+qualified(ref)).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count rows of %s: %w", ref, err)
	}
	meta.RowCount = uint64(count)
	return meta, nil
}

func (w *PostgresWarehouse) ListRows(ctx context.Context, ref models.TableRef) (pipeline.RowIterator, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT * FROM `+qualified(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", ref, err)
	}
	columns, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read columns of %s: %w", ref, err)
	}
	return &postgresRows{rows: rows, columns: columns}, nil
}

func (w *PostgresWarehouse) Close() error {
	return w.db.Close()
}

type postgresRows struct {
	rows    *sql.Rows
	columns []*sql.ColumnType
}

func (r *postgresRows) Next() (pipeline.Row, error) {
	if !r.rows.Next() {
		err := r.rows.Err()
		r.rows.Close()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	values := make([]interface{}, len(r.columns))
	ptrs := make([]interface{}, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.rows.Close()
		return nil, err
	}

	row := make(pipeline.Row, len(r.columns))
	for i, col := range r.columns {
		v, err := postgresValue(col.DatabaseTypeName(), values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name(), err)
		}
		row[col.Name()] = v
	}
	return row, nil
}

// Close releases the connection held by the result set. It is safe to call
// after the rows are exhausted.
func (r *postgresRows) Close() error {
	return r.rows.Close()
}

// postgresValue maps driver values onto the types the row source normalizes.
// NUMERIC arrives as text and becomes an exact *big.Rat.
func postgresValue(typeName string, v interface{}) (interface{}, error) {
	b, ok := v.([]byte)
	if !ok {
		return v, nil
	}
	if strings.EqualFold(typeName, "NUMERIC") {
		r, ok := new(big.Rat).SetString(string(b))
		if !ok {
			return nil, fmt.Errorf("invalid numeric %q", b)
		}
		return r, nil
	}
	return string(b), nil
}
