package pipeline

import (
	"fmt"
	"iter"
	"slices"

	"conversionupload/models"
)

// Chunk splits records into contiguous batches of at most size records,
// preserving order. Only the last batch may be smaller.
func Chunk(records models.Batch, size int) ([]models.Batch, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	batches := make([]models.Batch, 0, (len(records)+size-1)/size)
	for chunk := range slices.Chunk(records, size) {
		batches = append(batches, chunk)
	}
	return batches, nil
}

// Rebatch regroups a stream of batches of any size into batches of at most
// size records. An error from the source is passed through and ends the stream.
func Rebatch(source iter.Seq2[models.Batch, error], size int) iter.Seq2[models.Batch, error] {
	return func(yield func(models.Batch, error) bool) {
		if size < 1 {
			yield(nil, fmt.Errorf("batch size must be positive, got %d", size))
			return
		}
		buf := make(models.Batch, 0, size)
		for batch, err := range source {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, record := range batch {
				buf = append(buf, record)
				if len(buf) == size {
					if !yield(buf, nil) {
						return
					}
					buf = make(models.Batch, 0, size)
				}
			}
		}
		if len(buf) > 0 {
			yield(buf, nil)
		}
	}
}

// Batches turns a slice of already-materialized records into a stream.
func Batches(records models.Batch) iter.Seq2[models.Batch, error] {
	return func(yield func(models.Batch, error) bool) {
		if len(records) > 0 {
			yield(records, nil)
		}
	}
}
