package api

import (
	"net/http"

	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/gateway"
)

// handleQuery implements POST /v1/query.
func (d *Dependencies) handleQuery(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))

	var req QueryRequest
	if err := readJSON(r, querySchema, &req); err != nil {
		// Body problems are reported only to authenticated callers.
		if d.Verifier != nil {
			if _, verr := d.Verifier.Verify(token); verr != nil {
				writeGatewayError(w, &gateway.Error{
					Kind:    gateway.KindUnauthenticated,
					Status:  http.StatusUnauthorized,
					Message: gateway.MsgUnauthenticated,
					Reason:  auth.Reason(verr),
					Err:     verr,
				})
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	resp, err := d.Gateway.Handle(r.Context(), gateway.Request{
		Token:     token,
		Query:     req.Query,
		Transport: "http",
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("X-Request-ID", resp.RequestID)
	writeJSON(w, http.StatusOK, QueryResponse{Rows: resp.Rows, SQL: resp.SQL})
}

// writeGatewayError writes the caller-safe status and message of err.
func writeGatewayError(w http.ResponseWriter, err error) {
	gerr, ok := gateway.AsError(err)
	if !ok || gerr.Status == 0 {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: gateway.MsgInternal})
		return
	}
	if gerr.Kind == gateway.KindUnauthenticated {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, gerr.Status, ErrorResp{Detail: gerr.Message})
}
