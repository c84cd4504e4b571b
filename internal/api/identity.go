package api

import (
	"errors"
	"net/http"

	"github.com/triage-ai/querygate/internal/identity"
	"go.uber.org/zap"
)

func (d *Dependencies) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req CredentialsReq
	if err := readJSON(r, credsSchema, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	user, err := d.Identity.Register(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, identity.ErrUsernameTaken):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Username already registered"})
		return
	case errors.Is(err, identity.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	case err != nil:
		d.Logger.Error("register failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to register user"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (d *Dependencies) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsReq
	if err := readJSON(r, credsSchema, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	token, err := d.Identity.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Incorrect username or password"})
		return
	case err != nil:
		d.Logger.Error("login failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to log in"})
		return
	}

	writeJSON(w, http.StatusOK, token)
}
