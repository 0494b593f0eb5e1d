package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/analyzer"
	"github.com/andychuong/ttb-label-verification/internal/auth"
	"github.com/andychuong/ttb-label-verification/internal/config"
	"github.com/andychuong/ttb-label-verification/internal/database"
	"github.com/andychuong/ttb-label-verification/internal/events"
	"github.com/andychuong/ttb-label-verification/internal/imagestore"
	"github.com/andychuong/ttb-label-verification/internal/logging"
	"github.com/andychuong/ttb-label-verification/internal/metrics"
	"github.com/andychuong/ttb-label-verification/internal/server"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/sweeper"
	"github.com/andychuong/ttb-label-verification/internal/triggers"
	"github.com/andychuong/ttb-label-verification/internal/users"
	"github.com/andychuong/ttb-label-verification/internal/validation"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ttb-validator",
		Short: "Alcohol label submission and validation service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand(), newGrantAdminCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a dotenv file (defaults to .env when present)")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("analyzer-provider", defaults.GetString("analyzer.provider"), "Label analyzer (openai, stub)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "analyzer.provider", "analyzer-provider")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	var envPaths []string
	if envFile != "" {
		envPaths = append(envPaths, envFile)
	}
	if err := config.LoadDotEnv(envPaths...); err != nil {
		return err
	}

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

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Options{
		Driver: appConfig.Database.Driver,
		Path:   appConfig.Database.Path,
		DSN:    appConfig.Database.DSN,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func newAnalyzer(appConfig config.AppConfig, logger *zap.Logger) (validation.Analyzer, error) {
	if appConfig.Analyzer.Provider == config.AnalyzerProviderStub {
		logger.Warn("using stub analyzer; results are synthetic")
		return analyzer.NewStub(), nil
	}
	return analyzer.NewClient(analyzer.ClientConfig{
		APIKey:     appConfig.Analyzer.APIKey,
		Model:      appConfig.Analyzer.Model,
		Endpoint:   appConfig.Analyzer.Endpoint(),
		HTTPClient: &http.Client{Timeout: appConfig.Analyzer.Timeout},
		Logger:     logger,
	})
}

func newImageResolver(ctx context.Context, appConfig config.AppConfig) (validation.ImageResolver, error) {
	if !appConfig.Storage.Enabled() {
		return validation.DownloadURLResolver{}, nil
	}
	return imagestore.NewS3Resolver(ctx, imagestore.Config{
		Region:          appConfig.Storage.Region,
		Bucket:          appConfig.Storage.Bucket,
		AccessKeyID:     appConfig.Storage.AccessKeyID,
		SecretAccessKey: appConfig.Storage.SecretAccessKey,
		BaseURL:         appConfig.Storage.BaseURL,
		PresignTTL:      appConfig.Storage.PresignTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	metrics.Register()

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.Auth.SigningSecret),
		Issuer:        appConfig.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	labelAnalyzer, err := newAnalyzer(appConfig, logger.Named("analyzer"))
	if err != nil {
		return err
	}
	imageResolver, err := newImageResolver(signalCtx, appConfig)
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	notifiers := validation.Notifiers{realtime}
	if appConfig.Events.Enabled() {
		publisher, err := events.NewPublisher(events.PublisherConfig{
			URL:        appConfig.Events.AMQPURL,
			Exchange:   appConfig.Events.Exchange,
			RoutingKey: appConfig.Events.RoutingKey,
			Logger:     logger.Named("events"),
		})
		if err != nil {
			return err
		}
		defer publisher.Close() //nolint:errcheck
		notifiers = append(notifiers, publisher)
	}

	dispatcher := triggers.NewDispatcher(triggers.DispatcherConfig{
		Concurrency:    appConfig.Triggers.Concurrency,
		QueueSize:      appConfig.Triggers.QueueSize,
		EnqueueTimeout: appConfig.Triggers.EnqueueTimeout,
		Logger:         logger.Named("triggers"),
	})

	submissionService, err := submissions.NewService(submissions.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: submissions.NewUUIDProvider(),
		Events:     submissions.EventSinks{dispatcher, realtime},
		Logger:     logger.Named("submissions"),
	})
	if err != nil {
		return err
	}

	roleService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger.Named("users"),
	})
	if err != nil {
		return err
	}

	orchestrator, err := validation.NewOrchestrator(validation.OrchestratorConfig{
		Store:    submissionService,
		Analyzer: labelAnalyzer,
		Images:   imageResolver,
		Retry: validation.RetryPolicy{
			MaxAttempts: appConfig.Retry.MaxAttempts,
			BaseDelay:   appConfig.Retry.BaseDelay,
		},
		Notifier: notifiers,
		Requeuer: dispatcher,
		Logger:   logger.Named("validation"),
	})
	if err != nil {
		return err
	}

	triggerHandler, err := triggers.NewHandler(triggers.HandlerConfig{
		Loader: submissionService,
		Runner: orchestrator,
		Images: imageResolver,
		Logger: logger.Named("triggers"),
	})
	if err != nil {
		return err
	}

	stuckSweeper, err := sweeper.New(sweeper.Config{
		Store:      submissionService,
		Backlog:    submissionService,
		Requeuer:   dispatcher,
		Schedule:   appConfig.Sweeper.Schedule,
		StuckAfter: appConfig.Sweeper.StuckAfter,
		Notifier:   notifiers,
		Logger:     logger.Named("sweeper"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:    sessionValidator,
		Submissions: submissionService,
		Roles:       roleService,
		Realtime:    realtime,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(signalCtx, triggerHandler); err != nil {
			logger.Error("trigger dispatcher stopped", zap.Error(err))
		}
	}()

	if err := stuckSweeper.Start(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.Database.Driver),
			zap.String("analyzer", appConfig.Analyzer.Provider))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-signalCtx.Done():
	case serveErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := httpServer.Shutdown(shutdownCtx)
	stuckSweeper.Stop(shutdownCtx)
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("trigger dispatcher did not drain before shutdown deadline")
	}
	logger.Info("server stopped")
	return errors.Join(serveErr, shutdownErr)
}

func newTokenCommand() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token whose roles come from the user registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			db, closeDB, err := openDatabase(appConfig, zap.NewNop())
			if err != nil {
				return err
			}
			defer closeDB()

			roleService, err := users.NewService(users.ServiceConfig{Database: db})
			if err != nil {
				return err
			}
			roles, err := roleService.Roles(cmd.Context(), userID)
			if err != nil {
				return err
			}

			tokenTTL := appConfig.Auth.TokenTTL
			if ttl > 0 {
				tokenTTL = ttl
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.Auth.SigningSecret),
				Issuer:        appConfig.Auth.Issuer,
				TokenTTL:      tokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(cmd.Context(), auth.Principal{
				UserID: userID,
				Email:  email,
				Roles:  roles,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "roles %v, expires at %s\n", roles, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to embed in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl_minutes)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newGrantAdminCommand() *cobra.Command {
	var (
		userID string
		email  string
	)
	cmd := &cobra.Command{
		Use:   "grant-admin",
		Short: "Record the admin role for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, closeDB, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			roleService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
			if err != nil {
				return err
			}
			account, err := roleService.GrantAdmin(cmd.Context(), userID, email)
			if err != nil {
				return err
			}
			logger.Info("admin role granted", zap.String("user_id", account.UserID))
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", account.UserID, account.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to promote")
	cmd.Flags().StringVar(&email, "email", "", "Email to record for the user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
