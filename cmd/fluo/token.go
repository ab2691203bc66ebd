package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/tokens"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect or remove a stored Google token",
	}
	cmd.PersistentFlags().String("user", "", "User key (defaults to tokens.default_user_id)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the stored token for a user",
			RunE:  runTokenShow,
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Delete the stored token for a user",
			RunE:  runTokenDelete,
		},
	)
	return cmd
}

// openStore loads the config and opens the configured backend for the
// selected user.
func openStore(ctx context.Context, cmd *cobra.Command) (tokens.Store, func() error, string, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, "", err
	}

	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		userID = cfg.Tokens.DefaultUserID
	}
	if userID == "" {
		return nil, nil, "", errors.New("no user given, pass --user or set tokens.default_user_id")
	}

	store, closeFn, err := tokens.New(ctx, cfg.Tokens)
	if err != nil {
		return nil, nil, "", err
	}
	return store, closeFn, userID, nil
}

func runTokenShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeFn, userID, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	rec, err := store.Read(ctx, userID)
	if errors.Is(err, tokens.ErrNotFound) {
		pterm.Warning.Printfln("No token stored for %s", userID)
		return nil
	}
	if err != nil {
		return err
	}

	return pterm.DefaultTable.WithHasHeader().WithData(recordTable(rec)).Render()
}

func runTokenDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeFn, userID, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	if err := store.Delete(ctx, userID); err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			return fmt.Errorf("no token stored for %s", userID)
		}
		return err
	}
	pterm.Success.Printfln("Deleted token for %s", userID)
	return nil
}

func recordTable(rec *tokens.Record) pterm.TableData {
	return pterm.TableData{
		{"Field", "Value"},
		{"id", rec.ID},
		{"userId", rec.UserID},
		{"provider", rec.Provider},
		{"access_token", mask(rec.AccessToken)},
		{"refresh_token", mask(rec.RefreshToken)},
		{"expires_in", strconv.FormatInt(rec.ExpiresIn, 10)},
		{"expires_at", rec.ExpiresAt},
		{"scope", rec.Scope},
		{"createdAt", rec.CreatedAt},
	}
}

// mask keeps the first few characters of a credential.
func mask(s string) string {
	const keep = 6
	if s == "" {
		return "-"
	}
	if len(s) <= keep {
		return "******"
	}
	return s[:keep] + "******"
}
