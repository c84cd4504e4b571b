package api

import (
	"github.com/triage-ai/querygate/internal/chread"
	"github.com/triage-ai/querygate/internal/query"
)

// --- POST /v1/query ---

// QueryRequest is the JSON body for POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the success body. Each row's keys follow column order.
type QueryResponse struct {
	Rows []query.Row `json:"rows"`
	SQL  string      `json:"sql"`
}

// --- Identity ---

// CredentialsReq is the JSON body for /auth/register and /auth/login.
type CredentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// --- Audit ---

// EventListResp is a page of audit events.
type EventListResp struct {
	Events   []chread.EventRow `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
