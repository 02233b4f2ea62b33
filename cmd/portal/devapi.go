package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lms-portal/core"
	"lms-portal/devapi"
)

var devapiPort string

var devapiCmd = &cobra.Command{
	Use:   "devapi",
	Short: "Run the in-memory course backend for local development",
	Long: `devapi serves /api/auth, /api/users, /api/courses, /api/groups and
/api/progress from memory, seeded from DEVAPI_SEED_FILE or the built-in seed.
Data is lost on exit.`,
	RunE: runDevAPI,
}

func init() {
	devapiCmd.Flags().StringVar(&devapiPort, "port", "", "listen port (overrides DEVAPI_PORT)")
}

func runDevAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if devapiPort != "" {
		cfg.DevAPIPort = devapiPort
	}

	logger, logCloser, err := core.SetupLogging(cfg, "devapi.log")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()
	defer logger.Sync() //nolint:errcheck
	setGinMode(cfg)

	srv, err := devapi.Open(devapi.Config{
		Secret:                   cfg.DevAPISecret,
		TokenTTL:                 cfg.DevAPITokenTTL,
		SeedFile:                 cfg.DevAPISeedFile,
		InitialAdminPasswordPath: cfg.InitialAdminPasswordPath,
		BootstrapAdmin:           cfg.BootstrapAdminEnabled,
	}, bcrypt.DefaultCost, logger)
	if err != nil {
		return err
	}

	addr := ":" + cfg.DevAPIPort
	logger.Info("starting development backend", zap.String("addr", addr))
	return serveHTTP(cmd.Context(), addr, srv.Router(), logger)
}
