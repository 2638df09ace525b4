package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"conversionupload/models"
	"conversionupload/pipeline"
)

// BigQueryWarehouse reads conversion tables from BigQuery.
type BigQueryWarehouse struct {
	client  *bigquery.Client
	project string
}

func NewBigQueryWarehouse(ctx context.Context, projectID string, opts ...option.ClientOption) (*BigQueryWarehouse, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	return &BigQueryWarehouse{client: client, project: projectID}, nil
}

func (w *BigQueryWarehouse) table(ref models.TableRef) *bigquery.Table {
	project := ref.Project
	if project == "" {
		project = w.project
	}
	return w.client.DatasetInProject(project, ref.Dataset).Table(ref.Table)
}

func (w *BigQueryWarehouse) GetTable(ctx context.Context, ref models.TableRef) (*models.TableMetadata, error) {
	md, err := w.table(ref).Metadata(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", ref, pipeline.ErrTableNotFound)
		}
		return nil, fmt.Errorf("failed to get table %s: %w", ref, err)
	}
	return &models.TableMetadata{
		// FullID is "project:dataset.table".
		FullID:   strings.Replace(md.FullID, ":", ".", 1),
		RowCount: md.NumRows,
		Created:  md.CreationTime,
		Modified: md.LastModifiedTime,
	}, nil
}

func (w *BigQueryWarehouse) ListRows(ctx context.Context, ref models.TableRef) (pipeline.RowIterator, error) {
	return &bigQueryRows{it: w.table(ref).Read(ctx)}, nil
}

func (w *BigQueryWarehouse) Close() error {
	return w.client.Close()
}

type bigQueryRows struct {
	it *bigquery.RowIterator
}

func (r *bigQueryRows) Next() (pipeline.Row, error) {
	var values map[string]bigquery.Value
	err := r.it.Next(&values)
	if err == iterator.Done {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	row := make(pipeline.Row, len(values))
	for key, value := range values {
		row[key] = value
	}
	return row, nil
}
