package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brizzai/fluo/internal/auth"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/drive"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/requester"
	"github.com/brizzai/fluo/internal/search"
	"github.com/brizzai/fluo/internal/secrets"
	"github.com/brizzai/fluo/internal/server"
	"github.com/brizzai/fluo/internal/tokens"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fluo",
	Short: "Fluo admin dashboard backend",
	Long: `Fluo serves the admin dashboard API: the Google OAuth token lifecycle
(connect, refresh, probe, disconnect) and the search proxy routes.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		pterm.Info.Println(config.GetVersionInfo())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(serveCmd, versionCmd, newTokenCmd())
}

// loadConfig reads the configuration, starts the global logger and fills the
// Google client from Secrets Manager when google.secret_id is set.
func loadConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := secrets.Resolve(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to load Google client secret: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config, srv **server.Server) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.GetLogger()}
		}),
		tokens.Module,
		auth.Module,
		requester.Module,
		search.Module,
		drive.Module,
		server.Module,
		fx.Populate(srv),
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var srv *server.Server
	app := newApp(cfg, &srv)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			logger.Error("Failed to stop application", zap.Error(err))
		}
	}()

	if cfg.Google.ClientID == "" {
		logger.Warn("google.client_id is not set, Google login is disabled")
	}
	if cfg.Tokens.DefaultUserID == "" {
		logger.Warn("tokens.default_user_id is not set, token routes answer 500 until a browser session completes Google login")
	}

	return srv.Start(ctx)
}
