package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/sqlguard"
	"github.com/triage-ai/querygate/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			db, err := store.Open(cmd.Context(), storeConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := store.Migrate(db, cfg.DBDriver); err != nil {
				return err
			}
			version, err := store.Version(db, store.SetData, cfg.DBDriver)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at version %d\n", version)

			if !cfg.IdentityEnabled {
				return nil
			}
			idb, err := store.Open(cmd.Context(), identityStoreConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = idb.Close() }()

			if err := store.MigrateIdentity(idb, cfg.DBDriver); err != nil {
				return err
			}
			version, err = store.Version(idb, store.SetIdentity, cfg.DBDriver)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identity database at version %d\n", version)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var subject, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.AuthSecret, cfg.AuthAlgorithm, cfg.TokenTTL)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(subject, auth.ParseRole(role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "user or admin")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// errRejected makes `validate` exit non-zero after printing the reason.
var errRejected = errors.New("statement rejected")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check a statement against the safety rules without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			v, err := sqlguard.NewValidator(sqlguard.Config{Schema: sqlguard.NewSchema(cfg.Schema)})
			if err != nil {
				return err
			}
			stmt, err := v.Validate(sqlguard.Candidate{SQL: strings.Join(args, " ")})
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s\n", sqlguard.Reason(err))
				return errRejected
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: table=%s columns=%s\n", stmt.Table(), strings.Join(stmt.Columns(), ","))
			return nil
		},
	}
}

func newPromoteCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "promote <username>",
		Short: "Set the role of a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			db, err := store.Open(cmd.Context(), identityStoreConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			r := auth.ParseRole(role)
			err = store.NewStore(db, cfg.DBDriver).SetUserRole(cmd.Context(), args[0], string(r))
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("no user named %q", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], r)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "user or admin")
	return cmd
}
