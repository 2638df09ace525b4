package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversionupload/models"
)

func TestRevenueMicros(t *testing.T) {
	tests := []struct {
		revenue float64
		want    int64
	}{
		{revenue: 12.5, want: 12_500_000},
		{revenue: 0.29, want: 290_000},
		{revenue: 1.1, want: 1_100_000},
		{revenue: 0, want: 0},
		{revenue: 0.0000004, want: 0},
		{revenue: 1234.567891, want: 1_234_567_891},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RevenueMicros(tt.revenue), "revenue %v", tt.revenue)
	}
}

func TestSA360InsertRequestShape(t *testing.T) {
	t.Parallel()

	client, reqs, bodies := captureClient(t, http.StatusOK, `{"hasFailures":false}`)
	sa := NewSA360(client)
	cfg := &models.UploadConfig{
		Platform:         models.PlatformSA360,
		AgencyID:         "100",
		AdvertiserID:     "200",
		SegmentationName: "Purchases",
		CurrencyCode:     "eur",
	}

	batch := models.Batch{
		{
			models.FieldClickID:         "click-a",
			models.FieldConversionID:    "order-1",
			models.FieldTimestampMicros: int64(1714564800123456),
			models.FieldRevenue:         12.5,
		},
		{
			models.FieldClickID:            "click-b",
			models.FieldConversionID:       "order-2",
			models.FieldTimestampMillis:    int64(1714564800999),
			models.FieldRevenue:            0.29,
			models.FieldFloodlightActivity: "Signups",
			models.FieldConversionType:     "ACTION",
		},
	}
	_, err := sa.Insert(context.Background(), batch, cfg)
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	assert.Equal(t, "/api/conversion", (*reqs)[0].URL.Path)
	assert.JSONEq(t, `{
		"kind": "doubleclicksearch#conversionList",
		"conversion": [
			{
				"agencyId": "100",
				"advertiserId": "200",
				"clickId": "click-a",
				"conversionId": "order-1",
				"conversionTimestamp": "1714564800123",
				"segmentationType": "FLOODLIGHT",
				"segmentationName": "Purchases",
				"type": "TRANSACTION",
				"revenueMicros": "12500000",
				"currencyCode": "EUR"
			},
			{
				"agencyId": "100",
				"advertiserId": "200",
				"clickId": "click-b",
				"conversionId": "order-2",
				"conversionTimestamp": "1714564800999",
				"segmentationType": "FLOODLIGHT",
				"segmentationName": "Signups",
				"type": "ACTION",
				"revenueMicros": "290000",
				"currencyCode": "EUR"
			}
		]
	}`, string((*bodies)[0]))
}

func TestSA360RequiresSegmentationName(t *testing.T) {
	t.Parallel()

	sa := NewSA360(nil)
	batch := models.Batch{{
		models.FieldClickID:         "c",
		models.FieldConversionID:    "o",
		models.FieldTimestampMicros: int64(1),
		models.FieldRevenue:         1.0,
	}}
	_, err := sa.BuildRequest(batch, &models.UploadConfig{})
	assert.ErrorContains(t, err, "segmentation_name")
}

func TestSA360ValidateConfig(t *testing.T) {
	t.Parallel()

	sa := NewSA360(nil)
	assert.NoError(t, sa.ValidateConfig(&models.UploadConfig{}))
	assert.NoError(t, sa.ValidateConfig(&models.UploadConfig{CurrencyCode: "GBP", AgencyID: "1"}))
	assert.Error(t, sa.ValidateConfig(&models.UploadConfig{CurrencyCode: "XXZ"}))
	assert.Error(t, sa.ValidateConfig(&models.UploadConfig{AdvertiserID: "abc"}))
}

func TestSA360DefaultsCurrency(t *testing.T) {
	t.Parallel()

	req, err := NewSA360(nil).BuildRequest(models.Batch{{
		models.FieldClickID:         "c",
		models.FieldConversionID:    "o",
		models.FieldTimestampMicros: int64(5000),
		models.FieldRevenue:         2.0,
	}}, &models.UploadConfig{SegmentationName: "s"})
	require.NoError(t, err)
	assert.Equal(t, "USD", req.Conversion[0].CurrencyCode)
	assert.Equal(t, int64(5), req.Conversion[0].ConversionTimestamp)
	assert.Empty(t, req.Conversion[0].AgencyID)
}

func TestSA360CheckRecord(t *testing.T) {
	t.Parallel()

	sa := NewSA360(nil)
	record := models.ConversionRecord{
		models.FieldClickID:         "c",
		models.FieldConversionID:    "o",
		models.FieldTimestampMicros: int64(5000),
		models.FieldRevenue:         "12.x",
	}
	cfg := &models.UploadConfig{SegmentationName: "s"}
	assert.ErrorContains(t, sa.CheckRecord(record, cfg), models.FieldRevenue)

	record[models.FieldRevenue] = "12.5"
	assert.NoError(t, sa.CheckRecord(record, cfg))
	assert.Error(t, sa.CheckRecord(record, &models.UploadConfig{}))
}
