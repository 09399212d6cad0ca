// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/api"
	"github.com/JakeFAU/contact-harvester/internal/app"
	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/credstore"
	"github.com/JakeFAU/contact-harvester/internal/logging"
	"github.com/JakeFAU/contact-harvester/internal/store"
)

// annotationNeedsSheet marks commands that cannot start without a spreadsheet.
const annotationNeedsSheet = "harvester/needs-sheet"

// App is what the commands need from the application services. Tests swap
// in a fake through the factory passed to newRootCmd.
type App interface {
	api.Runner
	Credentials() *credstore.Store
	Ledger() store.ResultLedger
	Close(ctx context.Context) error
}

// AppFactory builds the application services once config is loaded.
type AppFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type runtimeKeyType struct{}

var runtimeKey runtimeKeyType

// runtime is the loaded state handed from the root hook to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout())
	defer cancel()
	if err := rt.app.Close(ctx); err != nil {
		rt.logger.Warn("Failed to close application services", zap.Error(err))
	}
	_ = rt.logger.Sync()
}

// newRootCmd creates the root command with its persistent flags.
func newRootCmd(newApp AppFactory) *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Finds contact emails for the businesses listed in a spreadsheet.",
		Long: `harvester reads a roster of businesses from a Google Sheet (or an xlsx
workbook), visits each business website or Facebook page, and writes the
first contact email it finds back into the "Business Email" column.

Run a profile directly with "website" or "social", or start the control
panel with "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			if cmd.Annotations[annotationNeedsSheet] == "true" {
				if err := requireSheet(cmd.Context(), cfg, logger); err != nil {
					return err
				}
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: logger, app: appInstance}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("key", "", "path to the Google service-account JSON key")
	flags.String("sheet", "", "spreadsheet ID to harvest")
	_ = v.BindPFlag("sheets.credentials_file", flags.Lookup("key"))
	_ = v.BindPFlag("sheets.spreadsheet_id", flags.Lookup("sheet"))

	cmd.AddCommand(
		newProfileCmd(config.ProfileWebsite, nil, "Harvest emails from each business website"),
		newProfileCmd(config.ProfileSocial, []string{"facebook"}, "Harvest emails from each business Facebook page"),
		newFilterCmd(),
		newServeCmd(),
	)
	return cmd
}

// requireSheet fails before any network activity when a Sheets-backed run has
// no spreadsheet from flags, environment, config or the storage directory.
func requireSheet(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	err := cfg.RequireSpreadsheet()
	if err == nil {
		return nil
	}
	creds, credErr := credstore.New(cfg.StorageDir, logger)
	if credErr != nil {
		return fmt.Errorf("open storage dir: %w", credErr)
	}
	if bootErr := creds.Bootstrap(ctx, nil); bootErr != nil {
		return bootErr
	}
	id, readErr := creds.SheetID(ctx)
	if readErr != nil {
		return readErr
	}
	if id == "" {
		return fmt.Errorf("%w: %w", app.ErrSheetIDNotSet, err)
	}
	return nil
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// withRuntime adapts fn into a RunE that closes the application services
// however fn returns.
func withRuntime(fn func(cmd *cobra.Command, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		rt, err := resolveRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(cmd, rt)
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(defaultAppFactory).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}
