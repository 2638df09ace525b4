package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"conversionupload/models"
)

type sliceRows struct {
	rows   []Row
	pos    int
	err    error
	closed int
}

func (s *sliceRows) Close() error {
	s.closed++
	return nil
}

func (s *sliceRows) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

type fakeWarehouse struct {
	meta    *models.TableMetadata
	rows    []Row
	readErr error
	lists   int
	opened  []*sliceRows
}

func (w *fakeWarehouse) GetTable(ctx context.Context, ref models.TableRef) (*models.TableMetadata, error) {
	if w.meta == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrTableNotFound)
	}
	return w.meta, nil
}

func (w *fakeWarehouse) ListRows(ctx context.Context, ref models.TableRef) (RowIterator, error) {
	w.lists++
	it := &sliceRows{rows: w.rows, err: w.readErr}
	w.opened = append(w.opened, it)
	return it, nil
}

type fakeQueue struct {
	failOn   map[int]bool
	attempts int
	messages map[string][][]byte
}

func (q *fakeQueue) Publish(ctx context.Context, destination string, data []byte) (string, error) {
	q.attempts++
	if q.failOn[q.attempts] {
		return "", errors.New("broker unavailable")
	}
	if q.messages == nil {
		q.messages = make(map[string][][]byte)
	}
	q.messages[destination] = append(q.messages[destination], data)
	return fmt.Sprintf("msg-%d", q.attempts), nil
}

type fakePlatform struct {
	name    string
	reply   func(call int, batch models.Batch) (*models.BatchResponse, error)
	calls   []models.Batch
	invalid error
	// unmappable lists conversion ids CheckRecord rejects.
	unmappable map[string]bool
}

func (p *fakePlatform) Name() string { return p.name }

func (p *fakePlatform) ValidateConfig(cfg *models.UploadConfig) error { return p.invalid }

func (p *fakePlatform) CheckRecord(record models.ConversionRecord, cfg *models.UploadConfig) error {
	if id, _ := record.String(models.FieldConversionID); p.unmappable[id] {
		return fmt.Errorf("field %s: invalid syntax", models.FieldQuantity)
	}
	return nil
}

func (p *fakePlatform) Insert(ctx context.Context, batch models.Batch, cfg *models.UploadConfig) (*models.BatchResponse, error) {
	p.calls = append(p.calls, batch)
	if p.reply == nil {
		return &models.BatchResponse{}, nil
	}
	return p.reply(len(p.calls), batch)
}

func (p *fakePlatform) sizes() []int {
	sizes := make([]int, len(p.calls))
	for i, b := range p.calls {
		sizes[i] = len(b)
	}
	return sizes
}

func validRow(i int) Row {
	return Row{
		models.FieldConversionID:   fmt.Sprintf("c-%d", i),
		models.FieldQuantity:       int64(1),
		models.FieldRevenue:        float64(i) + 0.5,
		models.FieldTimestamp:      time.Date(2024, 5, 1, 12, 0, i%60, 0, time.UTC),
		models.FieldClickID:        fmt.Sprintf("gclid-%d", i),
		models.FieldConversionType: "TRANSACTION",
	}
}

func validRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = validRow(i)
	}
	return rows
}

func records(n int) models.Batch {
	batch := make(models.Batch, n)
	for i := range batch {
		batch[i] = models.ConversionRecord{
			models.FieldConversionID:    fmt.Sprintf("c-%d", i),
			models.FieldClickID:         fmt.Sprintf("gclid-%d", i),
			models.FieldRevenue:         1.5,
			models.FieldQuantity:        int64(1),
			models.FieldTimestampMicros: int64(1714564800000000 + i),
		}
	}
	return batch
}
