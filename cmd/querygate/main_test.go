package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/config"
	"github.com/triage-ai/querygate/internal/storage"
	"github.com/triage-ai/querygate/internal/store"
	"go.uber.org/zap"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("QUERYGATE_AUTH_SECRET", "cli-test-secret")
	return dir
}

func TestValidateCommand(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "validate", "SELECT name FROM customers WHERE location = 'Pune'")
	require.NoError(t, err)
	assert.Equal(t, "ok: table=customers columns=name\n", out)

	out, err = runCLI(t, "validate", "DELETE FROM customers")
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, "rejected: not_select\n", out)
}

func TestTokenCommand(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "token", "--sub", "alice", "--role", "admin")
	require.NoError(t, err)

	v, err := auth.NewVerifier(auth.VerifierConfig{Secret: "cli-test-secret"})
	require.NoError(t, err)
	id, err := v.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{Subject: "alice", Role: auth.RoleAdmin}, id)

	_, err = runCLI(t, "token")
	assert.Error(t, err)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	isolate(t)
	t.Setenv("QUERYGATE_AUTH_SECRET", "")

	_, err := runCLI(t, "token", "--sub", "alice")
	assert.ErrorContains(t, err, "auth_secret")
}

func TestMigrateAndPromote(t *testing.T) {
	dir := isolate(t)
	dsn := filepath.Join(dir, "customers.db")
	idDSN := filepath.Join(dir, "users.db")

	out, err := runCLI(t, "migrate", "--db-dsn", dsn, "--identity-db-dsn", idDSN)
	require.NoError(t, err)
	assert.Equal(t, "database at version 1\nidentity database at version 1\n", out)

	db, err := store.Open(context.Background(), store.Config{Driver: store.DriverSQLite, DSN: idDSN})
	require.NoError(t, err)
	_, err = store.NewStore(db, store.DriverSQLite).CreateUser(context.Background(), "erin", "hash", "user")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err = runCLI(t, "promote", "erin", "--identity-db-dsn", idDSN)
	require.NoError(t, err)
	assert.Equal(t, "erin is now admin\n", out)

	_, err = runCLI(t, "promote", "nobody", "--identity-db-dsn", idDSN)
	assert.ErrorContains(t, err, "no user named")

	// The data database never holds credentials.
	data, err := store.Open(context.Background(), store.Config{Driver: store.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer data.Close()
	var n int
	require.NoError(t, data.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'users'`).Scan(&n))
	assert.Zero(t, n)
}

func TestMigrate_RejectsSharedIdentityDatabase(t *testing.T) {
	dir := isolate(t)
	dsn := filepath.Join(dir, "customers.db")

	_, err := runCLI(t, "migrate", "--db-dsn", dsn, "--identity-db-dsn", dsn)
	assert.ErrorContains(t, err, "identity_db_dsn")
}

func TestMigrate_IdentityDisabled(t *testing.T) {
	isolate(t)
	t.Setenv("QUERYGATE_IDENTITY_ENABLED", "false")

	out, err := runCLI(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "database at version 1\n", out)
}

func TestHTTPServer_DrainsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	reqErr := make(chan error, 1)
	srv := newHTTPServer(ctx, "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		reqErr <- r.Context().Err()
		w.WriteHeader(http.StatusNoContent)
	}))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + lis.Addr().String() + "/")
		if err != nil {
			done <- result{err: err}
			return
		}
		_ = resp.Body.Close()
		done <- result{code: resp.StatusCode}
	}()

	<-started
	cancel()
	shutdownDone := make(chan error, 1)
	go func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		shutdownDone <- srv.Shutdown(sctx)
	}()
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusNoContent, res.code)
	assert.NoError(t, <-reqErr, "request context must survive the signal")
	assert.NoError(t, <-shutdownDone)
}

func TestBuildGateway(t *testing.T) {
	isolate(t)
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	ctx := context.Background()
	dbCfg := storeConfig(cfg)
	rw, err := store.Open(ctx, dbCfg)
	require.NoError(t, err)
	defer rw.Close()
	require.NoError(t, store.Migrate(rw, cfg.DBDriver))
	ro, err := store.OpenReadOnly(ctx, dbCfg)
	require.NoError(t, err)
	defer ro.Close()

	gw, verifier, issuer, err := buildGateway(cfg, ro, storage.NewLogWriter(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, gw)

	tok, err := issuer.Issue("frank", auth.RoleUser)
	require.NoError(t, err)
	id, err := verifier.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "frank", id.Subject)
}

func TestMustBuildLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		assert.NotNil(t, mustBuildLogger(level))
	}
}
