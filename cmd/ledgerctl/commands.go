package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"plexledger/internal/app"
	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/reports"
	"plexledger/internal/services"

	"github.com/spf13/cobra"
)

// engine is the slice of the application the CLI drives.
type engine interface {
	RunTask(ctx context.Context, name string) (any, error)
	Consolidate(ctx context.Context, userID, actorID string) (models.Deposit, error)
	Authorize(ctx context.Context, userID string, amount string) (services.Decision, error)
	Report(ctx context.Context, sessionID string) (reports.Result, error)
	GrantAdmin(ctx context.Context, actorID, userID string, roles []string, super bool) (services.AdminGrant, error)
	IssueToken(ctx context.Context, userID string) (string, error)
	Close()
}

type appEngine struct {
	app *app.App
}

func (e appEngine) RunTask(ctx context.Context, name string) (any, error) {
	return e.app.Tasks.RunNow(ctx, name)
}

func (e appEngine) Consolidate(ctx context.Context, userID, actorID string) (models.Deposit, error) {
	return e.app.Consolidation.Consolidate(ctx, userID, actorID, time.Now().UTC())
}

func (e appEngine) Authorize(ctx context.Context, userID string, raw string) (services.Decision, error) {
	amount, err := money.ParsePositive(raw)
	if err != nil {
		return services.Decision{}, fmt.Errorf("amount %q: %w", raw, err)
	}
	return e.app.Guard.Authorize(ctx, userID, amount)
}

func (e appEngine) Report(ctx context.Context, sessionID string) (reports.Result, error) {
	return e.app.Reports.Export(ctx, sessionID)
}

func (e appEngine) GrantAdmin(ctx context.Context, actorID, userID string, roles []string, super bool) (services.AdminGrant, error) {
	return e.app.Admins.Grant(ctx, actorID, userID, roles, super)
}

func (e appEngine) IssueToken(ctx context.Context, userID string) (string, error) {
	return e.app.IssueAdminToken(ctx, userID)
}

func (e appEngine) Close() {
	e.app.Close()
}

// newEngine is replaced in tests.
var newEngine = func(ctx context.Context, configPath string) (engine, error) {
	a, err := app.New(ctx, configPath)
	if err != nil {
		return nil, err
	}
	return appEngine{app: a}, nil
}

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Operate the PLEX ledger: run tasks, consolidate deposits, check payouts, export reports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (defaults to configs/<APP_ENV>.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(authorizeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(grantAdminCmd)
	rootCmd.AddCommand(tokenCmd)

	consolidateCmd.Flags().String("actor", "ledgerctl", "actor id recorded in the audit log")
	reportCmd.Flags().StringP("out", "o", "", "also write the CSV to this file")
	grantAdminCmd.Flags().StringSlice("role", nil, "role to grant (operator, overrides, withdrawals); repeatable")
	grantAdminCmd.Flags().Bool("super", false, "grant super admin")
	grantAdminCmd.Flags().String("actor", "", "actor id recorded in the audit log")
}

var runCmd = &cobra.Command{
	Use:   "run TASK",
	Short: "Run a named task once (payment_monitor, daily_rewards, fee_balance_monitor, run_sessions)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e engine) error {
			result, err := e.RunTask(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"task": args[0], "result": result})
		})
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate USER_ID",
	Short: "Merge a user's active deposits into one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		return withEngine(cmd, func(ctx context.Context, e engine) error {
			deposit, err := e.Consolidate(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deposit)
		})
	},
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize USER_ID AMOUNT",
	Short: "Check whether a payout would be allowed, without recording it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e engine) error {
			decision, err := e.Authorize(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decision)
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report SESSION_ID",
	Short: "Export a reward session summary as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		return withEngine(cmd, func(ctx context.Context, e engine) error {
			result, err := e.Report(ctx, args[0])
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, result.Body, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"session_id": result.Summary.SessionID,
				"records":    result.Summary.Records,
				"total":      money.Format(result.Summary.Total),
				"location":   result.Location,
				"file":       out,
			})
		})
	},
}

var grantAdminCmd = &cobra.Command{
	Use:   "grant-admin USER_ID",
	Short: "Give a user access to the admin API; the first admin becomes super admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, _ := cmd.Flags().GetStringSlice("role")
		super, _ := cmd.Flags().GetBool("super")
		actor, _ := cmd.Flags().GetString("actor")
		return withEngine(cmd, func(ctx context.Context, e engine) error {
			grant, err := e.GrantAdmin(ctx, actor, args[0], roles, super)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), grant)
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue an admin API bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e engine) error {
			token, err := e.IssueToken(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"user_id": args[0], "token": token})
		})
	},
}

func withEngine(cmd *cobra.Command, fn func(context.Context, engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := newEngine(ctx, configPath)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
