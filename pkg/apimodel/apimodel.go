// Package apimodel holds the JSON messages exchanged on the position feed websocket.
package apimodel

import "encoding/json"

// Message types on the position feed
const (
	TypePositionSubscribe = "position_subscribe"
	TypePositionUpdate    = "position_update"
	TypeResult            = "result"
	TypeError             = "error"
)

type PositionSubscriptionRequest struct {
	RequestID int64          `json:"req_id"`
	Type      string         `json:"type"`
	Params    PositionParams `json:"params"`
}

// PositionParams mirror the browser geolocation watch options.
type PositionParams struct {
	HighAccuracy bool  `json:"high_accuracy"`
	MaximumAgeMS int64 `json:"maximum_age_ms"`
	TimeoutMS    int64 `json:"timeout_ms"`
}

// Message is the envelope of everything the feed sends. Data is decoded
// according to Type.
type Message struct {
	RequestID int64           `json:"req_id,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Success   bool            `json:"success,omitempty"`
}

type PositionUpdate struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

// ErrorPayload is used if Type is "error".
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
