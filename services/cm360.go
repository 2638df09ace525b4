package services

import (
	"context"
	"errors"
	"fmt"

	"conversionupload/models"
)

const (
	cm360RequestKind    = "dfareporting#conversionsBatchInsertRequest"
	cm360ConversionKind = "dfareporting#conversion"
)

type cm360BatchInsertRequest struct {
	Kind        string            `json:"kind"`
	Conversions []cm360Conversion `json:"conversions"`
}

// Int64 fields travel as JSON strings, as the API's discovery format expects.
type cm360Conversion struct {
	Kind                      string  `json:"kind"`
	Gclid                     string  `json:"gclid"`
	FloodlightActivityID      int64   `json:"floodlightActivityId,string"`
	FloodlightConfigurationID int64   `json:"floodlightConfigurationId,string"`
	Ordinal                   string  `json:"ordinal"`
	TimestampMicros           int64   `json:"timestampMicros,string"`
	Value                     float64 `json:"value"`
	Quantity                  int64   `json:"quantity,string"`
}

// CM360 uploads offline conversions through the Campaign Manager 360
// conversions batchinsert call.
type CM360 struct {
	client *PlatformClient
}

func NewCM360(client *PlatformClient) *CM360 {
	return &CM360{client: client}
}

func (c *CM360) Name() string { return models.PlatformCM360 }

func (c *CM360) ValidateConfig(cfg *models.UploadConfig) error {
	if cfg.ProfileID == "" || cfg.FloodlightActivityID == "" || cfg.FloodlightConfigurationID == "" {
		return errors.New("profile_id, floodlight_activity_id and floodlight_configuration_id are required")
	}
	for name, id := range map[string]models.ID{
		"profile_id":                  cfg.ProfileID,
		"floodlight_activity_id":      cfg.FloodlightActivityID,
		"floodlight_configuration_id": cfg.FloodlightConfigurationID,
	} {
		if _, err := id.Int64(); err != nil {
			return fmt.Errorf("%s %q is not numeric", name, id)
		}
	}
	return nil
}

func (c *CM360) Insert(ctx context.Context, batch models.Batch, cfg *models.UploadConfig) (*models.BatchResponse, error) {
	req, err := c.BuildRequest(batch, cfg)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/userprofiles/%s/conversions/batchinsert", cfg.ProfileID)
	return c.client.Post(ctx, path, req)
}

// CheckRecord reports whether record can be mapped onto a CM360 conversion.
func (c *CM360) CheckRecord(record models.ConversionRecord, cfg *models.UploadConfig) error {
	_, err := cm360FromRecord(record, 0, 0)
	return err
}

// BuildRequest maps records onto CM360 conversions. Revenue is sent as is;
// a record without a quantity counts once.
func (c *CM360) BuildRequest(batch models.Batch, cfg *models.UploadConfig) (*cm360BatchInsertRequest, error) {
	activityID, err := cfg.FloodlightActivityID.Int64()
	if err != nil {
		return nil, fmt.Errorf("floodlight_activity_id: %w", err)
	}
	configurationID, err := cfg.FloodlightConfigurationID.Int64()
	if err != nil {
		return nil, fmt.Errorf("floodlight_configuration_id: %w", err)
	}

	req := &cm360BatchInsertRequest{
		Kind:        cm360RequestKind,
		Conversions: make([]cm360Conversion, 0, len(batch)),
	}
	for i, record := range batch {
		conv, err := cm360FromRecord(record, activityID, configurationID)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		req.Conversions = append(req.Conversions, conv)
	}
	return req, nil
}

func cm360FromRecord(record models.ConversionRecord, activityID, configurationID int64) (cm360Conversion, error) {
	conv := cm360Conversion{
		Kind:                      cm360ConversionKind,
		FloodlightActivityID:      activityID,
		FloodlightConfigurationID: configurationID,
		Quantity:                  1,
	}
	var err error
	if conv.Gclid, err = record.String(models.FieldClickID); err != nil {
		return conv, err
	}
	if conv.Ordinal, err = record.String(models.FieldConversionID); err != nil {
		return conv, err
	}
	if conv.TimestampMicros, err = record.Int64(models.FieldTimestampMicros); err != nil {
		return conv, err
	}
	if conv.Value, err = record.Float64(models.FieldRevenue); err != nil {
		return conv, err
	}
	if record.Has(models.FieldQuantity) {
		if conv.Quantity, err = record.Int64(models.FieldQuantity); err != nil {
			return conv, err
		}
	}
	return conv, nil
}
