package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// EventWriter is the interface for writing query audit events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *QueryEvent)
	Close()
}

// QueryEvent records the outcome of one gateway request.
type QueryEvent struct {
	RequestID    string
	Timestamp    time.Time
	Transport    string // "http" or "grpc"
	Subject      string
	Role         string
	QueryPreview string // first QueryPreviewLength runes
	QueryHash    string // SHA256 of the full query text
	QuerySize    uint32
	Outcome      string // "ok" or a gateway error kind
	Reason       string // internal reason code, never shown to callers
	SQL          string
	RowCount     uint32
	LatencyMs    float32
}

// QueryPreviewLength is the max chars stored in query_preview.
const QueryPreviewLength = 500

// TruncatePayload returns the first N characters (runes) of a payload for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncatePayload(payload string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	n := 0
	for i := range payload {
		if n == maxLen {
			return payload[:i]
		}
		n++
	}
	return payload
}

// HashPayload returns the hex SHA256 of payload.
func HashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
