package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/auth"
	"github.com/pairpad/pairpad/internal/config"
	"github.com/pairpad/pairpad/internal/database"
	"github.com/pairpad/pairpad/internal/logging"
	"github.com/pairpad/pairpad/internal/rooms"
	"github.com/pairpad/pairpad/internal/server"
	"github.com/pairpad/pairpad/internal/sync"
	"github.com/pairpad/pairpad/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pairpad-api",
		Short: "PairPad collaborative editor backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("frontend-url", defaults.GetString("frontend.url"), "Frontend origin for redirects and CORS")
	cmd.PersistentFlags().String("github-client-id", defaults.GetString("github.client_id"), "GitHub OAuth client ID")
	cmd.PersistentFlags().String("github-callback-url", defaults.GetString("github.callback_url"), "GitHub OAuth callback URL")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "frontend.url", "frontend-url")
	bindFlag(cmd, "github.client_id", "github-client-id")
	bindFlag(cmd, "github.callback_url", "github-callback-url")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	roomsService, err := rooms.NewService(rooms.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		CodeProvider: rooms.NewRandomCodeProvider(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	hub, err := sync.NewHub(sync.HubConfig{
		Store:  roomsService,
		Logger: logger,
		Clock:  time.Now,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        "pairpad-api",
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	var gitHub *auth.GitHubAuthenticator
	var userService *users.Service
	if strings.TrimSpace(appConfig.GitHubClientID) != "" {
		gitHub, err = auth.NewGitHubAuthenticator(auth.GitHubConfig{
			ClientID:     appConfig.GitHubClientID,
			ClientSecret: appConfig.GitHubClientSecret,
			CallbackURL:  appConfig.GitHubCallbackURL,
		})
		if err != nil {
			return err
		}
		userService, err = users.NewService(users.ServiceConfig{
			Database: db,
			Clock:    time.Now,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Info("github login disabled, no client id configured")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		RoomsService: roomsService,
		Hub:          hub,
		Sessions:     sessions,
		GitHub:       gitHub,
		Users:        userService,
		FrontendURL:  appConfig.FrontendURL,
		Logger:       logger,
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
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
