package models

import "encoding/json"

// BatchResponse is the reply of a platform batch-insert call. Both platforms
// answer with this shape, although failure entries do not always carry the
// same fields.
type BatchResponse struct {
	HasFailures bool               `json:"hasFailures"`
	Status      []ConversionStatus `json:"status"`
}

type ConversionStatus struct {
	Conversion json.RawMessage   `json:"conversion,omitempty"`
	Gclid      string            `json:"gclid,omitempty"`
	Errors     []ConversionError `json:"errors,omitempty"`
}

type ConversionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UploadResult is the outcome for one submitted record.
type UploadResult struct {
	Index   int               `json:"index"`
	Record  ConversionRecord  `json:"record,omitempty"`
	Success bool              `json:"success"`
	Errors  []ConversionError `json:"errors,omitempty"`
}
