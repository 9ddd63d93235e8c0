package httpapi

import (
	"github.com/roach88/pipeline/internal/engine"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response is the envelope of every single-record endpoint.
type Response struct {
	Status  Status      `json:"status"`
	Node    string      `json:"node,omitempty"`
	Record  *RecordBody `json:"record,omitempty"`
	Version int64       `json:"version,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FindResponse is returned by the find endpoint.
type FindResponse struct {
	Status  Status       `json:"status"`
	Count   int          `json:"count"`
	Records []RecordBody `json:"records"`
}

// RecordBody is one decoded record.
type RecordBody struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Tier    string `json:"tier,omitempty"`
	Payload any    `json:"payload"`
}

func newRecordBody(l engine.Loaded) RecordBody {
	return RecordBody{
		Type:    l.Key.Type,
		ID:      l.Key.ID,
		Version: l.Version,
		Tier:    l.Tier.String(),
		Payload: l.Value,
	}
}

func NewOKResponse(node string) Response {
	return Response{Status: StatusOK, Node: node}
}

func NewVersionResponse(version int64) Response {
	return Response{Status: StatusSuccess, Version: version}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
