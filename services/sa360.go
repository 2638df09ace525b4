package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/text/currency"

	"conversionupload/models"
)

const (
	sa360ListKind         = "doubleclicksearch#conversionList"
	sa360SegmentationType = "FLOODLIGHT"
	sa360DefaultType      = "TRANSACTION"
	defaultCurrency       = "USD"
)

type sa360ConversionList struct {
	Kind       string            `json:"kind"`
	Conversion []sa360Conversion `json:"conversion"`
}

type sa360Conversion struct {
	AgencyID            string `json:"agencyId,omitempty"`
	AdvertiserID        string `json:"advertiserId,omitempty"`
	ClickID             string `json:"clickId"`
	ConversionID        string `json:"conversionId"`
	ConversionTimestamp int64  `json:"conversionTimestamp,string"`
	SegmentationType    string `json:"segmentationType"`
	SegmentationName    string `json:"segmentationName"`
	Type                string `json:"type"`
	RevenueMicros       int64  `json:"revenueMicros,string"`
	CurrencyCode        string `json:"currencyCode"`
}

// SA360 uploads offline conversions through the Search Ads 360 conversion
// insert call.
type SA360 struct {
	client *PlatformClient
}

func NewSA360(client *PlatformClient) *SA360 {
	return &SA360{client: client}
}

func (s *SA360) Name() string { return models.PlatformSA360 }

func (s *SA360) ValidateConfig(cfg *models.UploadConfig) error {
	if _, err := currencyCode(cfg); err != nil {
		return err
	}
	for name, id := range map[string]models.ID{"agency_id": cfg.AgencyID, "advertiser_id": cfg.AdvertiserID} {
		if id == "" {
			continue
		}
		if _, err := id.Int64(); err != nil {
			return fmt.Errorf("%s %q is not numeric", name, id)
		}
	}
	return nil
}

func (s *SA360) Insert(ctx context.Context, batch models.Batch, cfg *models.UploadConfig) (*models.BatchResponse, error) {
	req, err := s.BuildRequest(batch, cfg)
	if err != nil {
		return nil, err
	}
	return s.client.Post(ctx, "/conversion", req)
}

// BuildRequest maps records onto SA360 conversions. Revenue arrives in
// currency units and is sent as integer micros.
func (s *SA360) BuildRequest(batch models.Batch, cfg *models.UploadConfig) (*sa360ConversionList, error) {
	code, err := currencyCode(cfg)
	if err != nil {
		return nil, err
	}

	req := &sa360ConversionList{
		Kind:       sa360ListKind,
		Conversion: make([]sa360Conversion, 0, len(batch)),
	}
	for i, record := range batch {
		conv, err := sa360FromRecord(record, cfg, code)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		req.Conversion = append(req.Conversion, conv)
	}
	return req, nil
}

// CheckRecord reports whether record can be mapped onto an SA360 conversion.
func (s *SA360) CheckRecord(record models.ConversionRecord, cfg *models.UploadConfig) error {
	_, err := sa360FromRecord(record, cfg, "")
	return err
}

func sa360FromRecord(record models.ConversionRecord, cfg *models.UploadConfig, code string) (sa360Conversion, error) {
	conv := sa360Conversion{
		AgencyID:         cfg.AgencyID.String(),
		AdvertiserID:     cfg.AdvertiserID.String(),
		SegmentationType: sa360SegmentationType,
		SegmentationName: cfg.SegmentationName,
		Type:             sa360DefaultType,
		CurrencyCode:     code,
	}
	var err error
	if conv.ClickID, err = record.String(models.FieldClickID); err != nil {
		return conv, err
	}
	if conv.ConversionID, err = record.String(models.FieldConversionID); err != nil {
		return conv, err
	}
	if conv.ConversionTimestamp, err = timestampMillis(record); err != nil {
		return conv, err
	}
	revenue, err := record.Float64(models.FieldRevenue)
	if err != nil {
		return conv, err
	}
	conv.RevenueMicros = RevenueMicros(revenue)
	if name, err := record.String(models.FieldFloodlightActivity); err == nil && name != "" {
		conv.SegmentationName = name
	}
	if typ, err := record.String(models.FieldConversionType); err == nil && typ != "" {
		conv.Type = typ
	}
	if conv.SegmentationName == "" {
		return conv, errors.New("no floodlight activity and no segmentation_name configured")
	}
	return conv, nil
}

// RevenueMicros converts currency units to integer micros. The product is
// rounded so values like 0.29 do not lose a micro to float error.
func RevenueMicros(revenue float64) int64 {
	return int64(math.Round(revenue * 1_000_000))
}

func timestampMillis(record models.ConversionRecord) (int64, error) {
	if record.Has(models.FieldTimestampMillis) {
		return record.Int64(models.FieldTimestampMillis)
	}
	micros, err := record.Int64(models.FieldTimestampMicros)
	if err != nil {
		return 0, err
	}
	return micros / 1000, nil
}

func currencyCode(cfg *models.UploadConfig) (string, error) {
	code := cfg.CurrencyCode
	if code == "" {
		code = defaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("currency_code %q: %w", code, err)
	}
	return unit.String(), nil
}
