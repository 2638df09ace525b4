package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names produced by the warehouse transformation.
const (
	FieldConversionID       = "conversionId"
	FieldQuantity           = "conversionQuantity"
	FieldRevenue            = "conversionRevenue"
	FieldTimestamp          = "conversionTimestamp"
	FieldClickID            = "conversionVisitExternalClickId"
	FieldTimestampMicros    = "conversionTimestampMicros"
	FieldTimestampMillis    = "conversionTimestampMillis"
	FieldFloodlightActivity = "floodlightActivity"
	FieldConversionType     = "conversionType"
)

// RequiredFields must all be present for a row to become a ConversionRecord.
var RequiredFields = []string{
	FieldConversionID,
	FieldQuantity,
	FieldRevenue,
	FieldTimestamp,
	FieldClickID,
}

// ConversionRecord is one normalized warehouse row.
type ConversionRecord map[string]interface{}

// Batch is an ordered group of records bounded by a maximum size.
type Batch []ConversionRecord

// Platform identifiers.
const (
	PlatformCM360 = "cm360"
	PlatformSA360 = "sa360"
)

// ID is an identifier that may arrive as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Int64 parses the identifier as a base-10 integer.
func (id ID) Int64() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// UploadConfig identifies the destination of an upload. It travels with every
// queue message so the upload side needs no state of its own.
type UploadConfig struct {
	Platform                  string `json:"platform,omitempty"`
	ProfileID                 ID     `json:"profile_id,omitempty"`
	FloodlightActivityID      ID     `json:"floodlight_activity_id,omitempty"`
	FloodlightConfigurationID ID     `json:"floodlight_configuration_id,omitempty"`
	AgencyID                  ID     `json:"agency_id,omitempty"`
	AdvertiserID              ID     `json:"advertiser_id,omitempty"`
	SegmentationName          string `json:"segmentation_name,omitempty"`
	CurrencyCode              string `json:"currency_code,omitempty"`
}

// QueueMessage is the wire payload between extraction and upload.
type QueueMessage struct {
	Data MessageData `json:"data"`
}

type MessageData struct {
	Conversions Batch         `json:"conversions"`
	Config      *UploadConfig `json:"config,omitempty"`
}

// TableRef names a warehouse table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

func (r TableRef) String() string {
	if r.Project == "" {
		return r.Dataset + "." + r.Table
	}
	return r.Project + "." + r.Dataset + "." + r.Table
}

// TableMetadata is what the freshness check and row source need to know about a table.
type TableMetadata struct {
	FullID   string
	RowCount uint64
	Created  time.Time
	Modified time.Time
}
