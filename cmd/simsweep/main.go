package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"simsweep/internal/casa"
	"simsweep/internal/config"
	"simsweep/internal/logging"
	"simsweep/internal/tactile"
	"simsweep/internal/workspace"
)

var (
	// Global flags
	verbose    bool
	workdir    string
	configPath string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "simsweep",
	Short: "Sweep CASA simobserve/clean over beam sizes and integration times",
	Long: `simsweep runs a grid of synthetic interferometric observations.

For every sky-model FITS image, every integration time and every beam size
it asks CASA to simulate an observation (simobserve), reconstruct an image
(clean) and export the result as <base>_<beam>arcsec_<inttime>mins_simobs.fits.

Products are collected in <base>_Outputs/, intermediates in SimObs_<base>/.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workdir, "workdir", "w", "", "Sweep directory holding the sky models (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workdir>/.simsweep/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall timeout (0 = none)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkdir returns the absolute sweep directory.
func resolveWorkdir() (string, error) {
	dir := workdir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Abs(dir)
}

// resolveConfigPath returns --config or the per-workdir default.
func resolveConfigPath(root string) string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath(root)
}

// loadEnvFile loads <root>/.env when present. Variables already set win.
func loadEnvFile(root string) error {
	path := filepath.Join(root, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logger.Debug("Loaded environment file", zap.String("path", path))
	return nil
}

// prepare resolves the workspace, environment, config and file logging
// shared by every command that touches a sweep directory.
func prepare() (*workspace.Workspace, *config.Config, error) {
	root, err := resolveWorkdir()
	if err != nil {
		return nil, nil, err
	}
	ws, err := workspace.New(root)
	if err != nil {
		return nil, nil, err
	}
	if err := loadEnvFile(ws.Root); err != nil {
		return nil, nil, err
	}

	path := resolveConfigPath(ws.Root)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if err := logging.Initialize(config.Resolve(ws.Root, cfg.Logging.Dir), logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.IsJSON(),
		Categories: cfg.Logging.Categories,
	}); err != nil {
		logger.Warn("File logging disabled", zap.Error(err))
	}
	logging.Boot("Workspace %s, config %s", ws.Root, path)

	logger.Debug("Configuration loaded",
		zap.String("workdir", ws.Root),
		zap.String("config", path),
		zap.String("casa", cfg.Casa.Binary))
	return ws, cfg, nil
}

// commandContext returns a context canceled by SIGINT/SIGTERM and by
// --timeout when set.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

// newHost wires the CASA adapter onto a direct executor with an audit trail.
func newHost(cfg *config.Config, root, sweepID string) (*casa.ScriptHost, *tactile.AuditLogger, error) {
	execCfg := tactile.DefaultExecutorConfig()
	execCfg.DefaultWorkingDir = root
	execCfg.DefaultTimeout = cfg.GetCasaTimeout()
	if len(cfg.Execution.AllowedEnvVars) > 0 {
		execCfg.AllowedEnvironment = cfg.Execution.AllowedEnvVars
	}
	if cfg.Execution.MaxOutputBytes > 0 {
		execCfg.MaxOutputBytes = cfg.Execution.MaxOutputBytes
	}
	executor := tactile.NewDirectExecutorWithConfig(execCfg)

	audit := tactile.NewAuditLogger()
	if cfg.Execution.AuditFile != "" {
		if err := audit.EnableFileLogging(config.Resolve(root, cfg.Execution.AuditFile)); err != nil {
			return nil, nil, err
		}
	}
	audit.AddCallback(func(e tactile.AuditEvent) {
		fields := []zap.Field{
			zap.String("event", string(e.Type)),
			zap.String("task", e.Command.Tags["task"]),
			zap.String("sweep", e.SessionID),
		}
		if e.Result != nil {
			fields = append(fields, zap.Int("exit", e.Result.ExitCode), zap.Duration("duration", e.Result.Duration))
		}
		logger.Debug("casa", fields...)
	})
	audit.Attach(executor)

	host := casa.NewScriptHost(executor, casa.ScriptHostOptions{
		Binary:      cfg.Casa.Binary,
		Args:        cfg.Casa.Args,
		ScriptDir:   config.Resolve(root, cfg.Casa.ScriptDir),
		LogDir:      config.Resolve(root, cfg.Casa.LogDir),
		KeepScripts: cfg.Casa.KeepScripts,
		Timeout:     cfg.GetCasaTimeout(),
	})
	host.SetSessionID(sweepID)
	return host, audit, nil
}
