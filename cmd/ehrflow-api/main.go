package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/chart"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/config"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/database"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/mockdb"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/preferences"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/server"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ehrflow-api",
		Short: "EHR flowsheet backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().Duration("heartbeat-interval", defaults.GetDuration("http.heartbeat_interval"), "Event stream heartbeat interval")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("fixtures-path", defaults.GetString("fixtures.path"), "Mock database fixture file (JSON or YAML)")
	cmd.PersistentFlags().Duration("tick-interval", defaults.GetDuration("flowsheet.tick_interval"), "Now column refresh interval")
	cmd.PersistentFlags().String("timezone", defaults.GetString("flowsheet.timezone"), "IANA zone used for column display times")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.heartbeat_interval", "heartbeat-interval")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "fixtures.path", "fixtures-path")
	bindFlag(cmd, "flowsheet.tick_interval", "tick-interval")
	bindFlag(cmd, "flowsheet.timezone", "timezone")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	seed, err := mockdb.Load(appConfig.FixturesPath)
	if err != nil {
		return err
	}
	backing, err := store.New(store.Config{Seed: seed, Clock: time.Now})
	if err != nil {
		return err
	}
	chartDatabase := chart.NewDatabase(backing)

	auditLog, err := flowsheet.NewAuditLog(flowsheet.AuditLogConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: flowsheet.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	flowsheetService, err := flowsheet.NewService(flowsheet.ServiceConfig{
		Store:        chartDatabase,
		Clock:        time.Now,
		IDProvider:   flowsheet.NewUUIDProvider(),
		Logger:       logger,
		Recorder:     auditLog,
		TickInterval: appConfig.TickInterval,
		Location:     appConfig.Location,
	})
	if err != nil {
		return err
	}
	defer flowsheetService.Shutdown()

	localStorage, err := preferences.NewService(preferences.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Database:          chartDatabase,
		Flowsheets:        flowsheetService,
		EditHistory:       auditLog,
		LocalStorage:      localStorage,
		Logger:            logger,
		HeartbeatInterval: appConfig.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Duration("tick_interval", appConfig.TickInterval),
			zap.String("timezone", appConfig.Timezone),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		flowsheetService.Shutdown()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
