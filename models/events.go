package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const pubsubMessageType = "type.googleapis.com/google.pubsub.v1.PubsubMessage"

// DelegateRequest is the document that starts an extraction run.
//
//	{
//	  "dataset_name": "dataset",
//	  "table_name": "table",
//	  "topic": "topic",
//	  "cm360_config": {"profile_id": "", "floodlight_activity_id": "", "floodlight_configuration_id": ""}
//	}
type DelegateRequest struct {
	DatasetName string        `json:"dataset_name"`
	TableName   string        `json:"table_name"`
	Topic       string        `json:"topic"`
	CM360Config *UploadConfig `json:"cm360_config,omitempty"`
	SA360Config *UploadConfig `json:"sa360_config,omitempty"`
}

// UploadConfig returns whichever platform config the request carries, with
// its platform set.
func (r *DelegateRequest) UploadConfig() *UploadConfig {
	switch {
	case r.CM360Config != nil:
		cfg := *r.CM360Config
		if cfg.Platform == "" {
			cfg.Platform = PlatformCM360
		}
		return &cfg
	case r.SA360Config != nil:
		cfg := *r.SA360Config
		if cfg.Platform == "" {
			cfg.Platform = PlatformSA360
		}
		return &cfg
	}
	return nil
}

// envelope covers the push subscription body, the background-function event
// and the legacy event shape.
type envelope struct {
	Type    string          `json:"@type"`
	Data    json.RawMessage `json:"data"`
	Message *struct {
		Data       string            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// ErrEmptyPayload is returned when an envelope carries no data.
var ErrEmptyPayload = errors.New("event carries no payload")

// UnwrapEvent returns the JSON document carried by body. A push body, or any
// event whose data is a string, is base64-decoded; anything else is returned
// as is.
func UnwrapEvent(body []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid event json: %w", err)
	}

	data := bytes.TrimSpace(env.Data)
	var encoded string
	switch {
	case env.Message != nil:
		encoded = env.Message.Data
	case len(data) > 0 && data[0] == '"':
		if err := json.Unmarshal(data, &encoded); err != nil {
			return nil, fmt.Errorf("invalid event data: %w", err)
		}
	case env.Type == pubsubMessageType:
		// Legacy event with null or absent data.
	default:
		return body, nil
	}
	if encoded == "" {
		return nil, ErrEmptyPayload
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	// Messages created from a shell arrive wrapped in single quotes.
	payload = bytes.TrimSpace(payload)
	if len(payload) >= 2 && payload[0] == '\'' && payload[len(payload)-1] == '\'' {
		payload = payload[1 : len(payload)-1]
	}
	return payload, nil
}

// DecodeDelegateEvent decodes the request that starts an extraction run.
func DecodeDelegateEvent(body []byte) (*DelegateRequest, error) {
	payload, err := UnwrapEvent(body)
	if err != nil {
		return nil, err
	}
	var req DelegateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("unable to parse delegate payload: %w", err)
	}
	return &req, nil
}

// DecodeQueueEvent decodes a queue message, keeping numbers as json.Number so
// large ids and micro timestamps keep their precision.
func DecodeQueueEvent(body []byte) (*QueueMessage, error) {
	payload, err := UnwrapEvent(body)
	if err != nil {
		return nil, err
	}
	return DecodeQueueMessage(payload)
}

// DecodeQueueMessage decodes a raw queue message body.
func DecodeQueueMessage(payload []byte) (*QueueMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var msg QueueMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("unable to parse queue message: %w", err)
	}
	return &msg, nil
}
