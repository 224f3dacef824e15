// Command stocksync reconciles product stock counts across e-commerce
// marketplaces, using a local SQLite file as the authoritative inventory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skeolabs/stocksync/internal/app"
	"github.com/skeolabs/stocksync/internal/common"
	"github.com/skeolabs/stocksync/internal/models"
)

// Exit codes.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitStoreError    = 2
	exitAdaptersError = 3
)

var (
	configPath string
	readOnly   bool
	authCode   string
)

// exitCode classifies an error into the CLI exit code contract.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case common.IsStoreCorrupt(err):
		return exitStoreError
	case errors.Is(err, app.ErrAllAdaptersFailed):
		return exitAdaptersError
	case common.IsCommunicationError(err):
		return exitAdaptersError
	}
	return exitConfigError
}

// withApp runs fn with a fully constructed App, releasing the store on all
// exit paths.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.NewApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(context.Background(), a)
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run cleanup and stock reconciliation across marketplaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if !readOnly {
					if err := a.RunCleanup(ctx); err != nil {
						a.Logger.Error().Err(err).Msg("Cleanup failed, continuing with sync")
					}
				}
				return a.RunSync(ctx, readOnly)
			})
		},
	}
	cmd.Flags().BoolVar(&readOnly, "readonly", false, "observe deltas without writing anywhere")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Prune local inventory of SKUs the default marketplace no longer lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.RunCleanup(ctx)
			})
		},
	}
}

func newReauthCmd(use string, system models.System) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Exchange an authorization code for %s OAuth2 tokens", system.ConfigSection()),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Reauthorize(ctx, system, authCode)
			})
		},
	}
	cmd.Flags().StringVar(&authCode, "token", "", "authorization code from the marketplace consent page")
	cmd.MarkFlagRequired("token")
	return cmd
}

func newShopeeAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shopee-authurl",
		Short: "Print the shop authorization URL for connecting a Shopee shop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				url, err := a.ShopeeAuthURL()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
}

func newChkconfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chkconfig",
		Short: "Dump enabled marketplaces and OAuth2 token summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "store: %s\n", a.Config.Common.Store)
				for _, status := range a.CheckConfig(ctx) {
					line := status.Section
					if status.Default {
						line += " (default)"
					}
					if status.OAuth2 {
						line += " — " + status.TokenInfo
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stocksync",
		Short:         "Reconcile product stocks across e-commerce marketplaces",
		Version:       common.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"path to config file (falls back to CONFIG_PATH, then config.ini)")

	root.AddCommand(
		newSyncCmd(),
		newCleanupCmd(),
		newReauthCmd("lazada-reauth", models.SystemLazada),
		newReauthCmd("tiktok-reauth", models.SystemTiktok),
		newShopeeAuthURLCmd(),
		newChkconfigCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stocksync: %v\n", err)
		os.Exit(exitCode(err))
	}
}
