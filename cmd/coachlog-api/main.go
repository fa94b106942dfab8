package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/auth"
	"github.com/CoachLogLabs/coachlog/backend/internal/blobstore"
	"github.com/CoachLogLabs/coachlog/backend/internal/config"
	"github.com/CoachLogLabs/coachlog/backend/internal/credentials"
	"github.com/CoachLogLabs/coachlog/backend/internal/database"
	"github.com/CoachLogLabs/coachlog/backend/internal/logging"
	"github.com/CoachLogLabs/coachlog/backend/internal/providers"
	"github.com/CoachLogLabs/coachlog/backend/internal/server"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"github.com/CoachLogLabs/coachlog/backend/internal/stats"
	"github.com/CoachLogLabs/coachlog/backend/internal/tracks"
	"github.com/CoachLogLabs/coachlog/backend/internal/users"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "coachlog-api",
		Short: "CoachLog track import backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newTokenCommand())

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
	cmd.PersistentFlags().String("blob-root", defaults.GetString("blob.root"), "Blob store root directory")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "API signing secret (overrides env)")
	cmd.PersistentFlags().String("vault-key", "", "Credential vault key, 64 hex characters (overrides env)")
	cmd.PersistentFlags().Int("import-workers", defaults.GetInt("import.workers"), "Parallel import runs")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "blob.root", "blob-root")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "vault.key", "vault-key")
	bindFlag(cmd, "import.workers", "import-workers")
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

// services bundles everything both the server and the import command need.
type services struct {
	cfg      config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	vault    *credentials.Vault
	registry *providers.Registry
	importer *tracks.Importer
	library  *tracks.Library
	stats    *stats.Service
	users    *users.Service
	tokens   *auth.TokenManager
}

func buildServices() (*services, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		sqlDB.Close()
		logger.Sync() //nolint:errcheck
	}

	vaultKey, err := hex.DecodeString(appConfig.VaultKeyHex)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("vault key is not valid hex: %w", err)
	}
	vault, err := credentials.NewVault(db, vaultKey)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	blobs, err := blobstore.NewStore(afero.NewOsFs(), appConfig.BlobRoot)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	catalog, err := sport.NewCatalog(db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	registry, err := providers.NewRegistry(providers.RegistryConfig{
		Vault:   vault,
		Catalog: catalog,
		Garmin:  appConfig.Garmin,
		Strava:  appConfig.Strava,
		Timeout: appConfig.HTTPTimeout,
		Logger:  logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	calendar := sport.NewCalendar(logger)
	reconciler, err := tracks.NewReconciler(tracks.ReconcilerConfig{
		Database: db,
		Blobs:    blobs,
		Calendar: calendar,
		Logger:   logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	statsService, err := stats.NewService(db, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	importer, err := tracks.NewImporter(tracks.ImporterConfig{
		Reconciler: reconciler,
		Stats:      statsService,
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	library, err := tracks.NewLibrary(db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	usersService, err := users.NewService(db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "coachlog-auth",
		Audience:      "coachlog-api",
	})

	return &services{
		cfg:      appConfig,
		logger:   logger,
		db:       db,
		vault:    vault,
		registry: registry,
		importer: importer,
		library:  library,
		stats:    statsService,
		users:    usersService,
		tokens:   tokens,
	}, cleanup, nil
}

func runServer(ctx context.Context) error {
	svc, cleanup, err := buildServices()
	if err != nil {
		return err
	}
	defer cleanup()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: svc.tokens,
		Vault:        svc.vault,
		Registry:     svc.registry,
		Importer:     svc.importer,
		Library:      svc.library,
		Stats:        svc.stats,
		Logger:       svc.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    svc.cfg.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("server starting", zap.String("address", svc.cfg.HTTPAddress))
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

func newImportCommand() *cobra.Command {
	var (
		all       bool
		full      bool
		athleteID uint
		provider  string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run track imports from connected providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := buildServices()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if all {
				athletes, err := svc.users.ListPremium(ctx)
				if err != nil {
					return err
				}
				return svc.importer.ImportAll(ctx, athletes, svc.registry.ForAthlete, full, svc.cfg.ImportWorkers)
			}

			if athleteID == 0 {
				return fmt.Errorf("either --all or --athlete is required")
			}
			athlete, err := svc.users.Get(ctx, athleteID)
			if err != nil {
				return err
			}

			adapters := svc.registry.ForAthlete(*athlete)
			if provider != "" {
				adapter, err := svc.registry.Get(provider, athlete.ID)
				if err != nil {
					return err
				}
				adapters = []tracks.Provider{adapter}
			}

			for _, adapter := range adapters {
				connected, err := adapter.IsConnected(ctx)
				if err != nil {
					return err
				}
				if !connected {
					svc.logger.Info("provider not connected, skipping",
						zap.String("provider", adapter.Name()),
						zap.Uint("athlete_id", athlete.ID))
					continue
				}
				if err := svc.importer.ImportAthlete(ctx, athlete.ID, adapter, full); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Import for every premium athlete")
	cmd.Flags().BoolVar(&full, "full", false, "Walk the full provider history instead of stopping at the first unchanged page")
	cmd.Flags().UintVar(&athleteID, "athlete", 0, "Import for a single athlete id")
	cmd.Flags().StringVar(&provider, "provider", "", "Restrict the import to one provider")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var athleteID uint

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for an athlete",
		RunE: func(cmd *cobra.Command, args []string) error {
			if athleteID == 0 {
				return fmt.Errorf("--athlete is required")
			}
			svc, cleanup, err := buildServices()
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := svc.users.Get(cmd.Context(), athleteID); err != nil {
				return err
			}
			token, expiresIn, err := svc.tokens.IssueToken(athleteID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return nil
		},
	}

	cmd.Flags().UintVar(&athleteID, "athlete", 0, "Athlete id the token is issued for")
	return cmd
}
