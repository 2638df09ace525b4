package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/big"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hashicorp/go-hclog"

	"conversionupload/models"
)

const dateLayout = "2006-01-02"

// ErrReaderConsumed is yielded when a RowReader is ranged over a second time.
var ErrReaderConsumed = errors.New("row reader already consumed")

// RowSource reads conversion tables and turns their rows into records.
type RowSource struct {
	warehouse Warehouse
	location  *time.Location
	logger    hclog.Logger
}

func NewRowSource(warehouse Warehouse, location *time.Location, logger hclog.Logger) *RowSource {
	if location == nil {
		location = time.UTC
	}
	return &RowSource{
		warehouse: warehouse,
		location:  location,
		logger:    logger.Named("rowsource"),
	}
}

// Table returns the metadata of ref.
func (s *RowSource) Table(ctx context.Context, ref models.TableRef) (*models.TableMetadata, error) {
	return s.warehouse.GetTable(ctx, ref)
}

// Open starts reading ref. Rows are fetched lazily while the returned reader
// is ranged over.
func (s *RowSource) Open(ctx context.Context, ref models.TableRef, batchSize int) (*RowReader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	rows, err := s.warehouse.ListRows(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("list rows of %s: %w", ref, err)
	}
	return &RowReader{
		ref:       ref,
		rows:      rows,
		batchSize: batchSize,
		location:  s.location,
		logger:    s.logger,
		stats:     ReadStats{Skipped: make(map[string]int)},
	}, nil
}

// ReadStats counts what a RowReader did with the rows it saw.
type ReadStats struct {
	Processed int
	Emitted   int
	Dropped   int
	// Skipped counts dropped rows per missing required field. A row missing
	// two fields is counted under both.
	Skipped map[string]int
}

// RowReader is a single pass over one table.
type RowReader struct {
	ref       models.TableRef
	rows      RowIterator
	batchSize int
	location  *time.Location
	logger    hclog.Logger
	consumed  bool
	stats     ReadStats
}

// Stats reports counters for the rows read so far.
func (r *RowReader) Stats() ReadStats { return r.stats }

// Batches yields records in batches of the reader's batch size; the last one
// may be smaller. Rows missing a required field are dropped.
func (r *RowReader) Batches() iter.Seq2[models.Batch, error] {
	return func(yield func(models.Batch, error) bool) {
		if r.consumed {
			yield(nil, ErrReaderConsumed)
			return
		}
		r.consumed = true
		defer r.logSummary()
		defer r.close()

		buf := make(models.Batch, 0, r.batchSize)
		for {
			row, err := r.rows.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("read %s: %w", r.ref, err))
				return
			}
			r.stats.Processed++

			record, missing := NormalizeRow(row, r.location)
			if len(missing) > 0 {
				r.stats.Dropped++
				for _, key := range missing {
					r.stats.Skipped[key]++
				}
				r.logger.Debug("skipped row", "missing", missing)
				continue
			}

			buf = append(buf, record)
			if len(buf) >= r.batchSize {
				r.stats.Emitted += len(buf)
				if !yield(buf, nil) {
					return
				}
				buf = make(models.Batch, 0, r.batchSize)
			}
		}
		if len(buf) > 0 {
			r.stats.Emitted += len(buf)
			yield(buf, nil)
		}
	}
}

func (r *RowReader) close() {
	closer, ok := r.rows.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		r.logger.Warn("failed to close row iterator", "table", r.ref.String(), "error", err)
	}
}

func (r *RowReader) logSummary() {
	keys := make([]string, 0, len(r.stats.Skipped))
	for key := range r.stats.Skipped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		n := r.stats.Skipped[key]
		parts = append(parts, fmt.Sprintf("%d row%s missing key %q", n, pluralize(n), key))
	}
	skipped := "nothing"
	if len(parts) > 0 {
		skipped = strings.Join(parts, ", ")
	}
	r.logger.Info("processed table", "table", r.ref.String(), "rows", r.stats.Processed,
		"emitted", r.stats.Emitted, "skipped", skipped)
}

func pluralize(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}

// NormalizeRow validates row and converts it into a record. It returns the
// required fields that were absent; when there are any the record is nil.
//
// The primary timestamp is also stored as microseconds since the epoch under
// FieldTimestampMicros. Other temporal values become dates formatted in loc,
// arbitrary-precision decimals become float64.
func NormalizeRow(row Row, loc *time.Location) (models.ConversionRecord, []string) {
	var missing []string
	for _, key := range models.RequiredFields {
		if v, ok := row[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, missing
	}

	micros, ok := timestampMicros(row[models.FieldTimestamp], loc)
	if !ok {
		return nil, []string{models.FieldTimestamp}
	}

	record := make(models.ConversionRecord, len(row)+1)
	for key, value := range row {
		record[key] = normalizeValue(value, loc)
	}
	record[models.FieldTimestampMicros] = micros
	return record, nil
}

func normalizeValue(value interface{}, loc *time.Location) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.In(loc).Format(dateLayout)
	case civil.Date:
		return v.String()
	case civil.DateTime:
		return v.Date.String()
	case *big.Rat:
		if v == nil {
			return nil
		}
		f, _ := v.Float64()
		return f
	default:
		return value
	}
}

func timestampMicros(value interface{}, loc *time.Location) (int64, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UnixMicro(), true
	case civil.DateTime:
		return v.In(loc).UnixMicro(), true
	case civil.Date:
		return v.In(loc).UnixMicro(), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
