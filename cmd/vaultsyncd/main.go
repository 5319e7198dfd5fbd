package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jmoiron/sqlx"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vaultsync/vaultsync/internal/changelog"
	vsconfig "github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/db"
	"github.com/vaultsync/vaultsync/internal/fileops"
	"github.com/vaultsync/vaultsync/internal/ignorelist"
	"github.com/vaultsync/vaultsync/internal/metadata"
	"github.com/vaultsync/vaultsync/internal/statusserver"
	"github.com/vaultsync/vaultsync/internal/tokenizer"
	"github.com/vaultsync/vaultsync/internal/utils"
	"github.com/vaultsync/vaultsync/internal/vault"
	"github.com/vaultsync/vaultsync/internal/vaultclient"
	"github.com/vaultsync/vaultsync/internal/version"
	"github.com/vaultsync/vaultsync/internal/watcher"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "vaultsyncd",
	Short:   "VaultSync client daemon",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &vsconfig.Config{
			Path:        viper.ConfigFileUsed(),
			RemoteURI:   viper.GetString("remote_uri"),
			VaultDir:    viper.GetString("vault_dir"),
			Token:       viper.GetString("token"),
			Tokenizer:   viper.GetString("tokenizer"),
			ClientURL:   viper.GetString("client_url"),
			ClientToken: viper.GetString("client_token"),
			HistoryDB:   viper.GetBool("history_db"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		slog.Info("vaultsyncd starting", "config", cfg)

		v, err := vault.Open(cfg.VaultDir)
		if err != nil {
			return err
		}
		if err := v.Setup(); err != nil {
			return err
		}
		defer v.Unlock()

		files := fileops.NewOSFileOps(v.Root)

		overrides, err := vsconfig.LoadVaultOverrides(v.Root)
		if err != nil {
			slog.Warn("failed to read .vaultsync.yaml overrides", "error", err)
		}
		if overrides.Tokenizer != "" {
			cfg.Tokenizer = overrides.Tokenizer
		}
		files.Tokenizer = tokenizer.ForName(tokenizer.Name(cfg.Tokenizer))

		ignore := ignorelist.New(v.Root)
		ignore.Load(overrides.ExtraIgnores)

		watch := watcher.New(v.Root)

		remote := changelog.NewHTTPClient(cfg.RemoteURI, changelog.DeriveWebSocketURL(cfg.RemoteURI), cfg.Token)

		persistence := metadata.FilePersistence{Path: v.StatePath}

		var historyDB *sqlx.DB
		if cfg.HistoryDB {
			historyDB, err = db.NewSqliteDB(db.WithPath(v.HistoryDBPath))
			if err != nil {
				slog.Warn("history database disabled", "error", err)
				historyDB = nil
			}
		}

		client, err := vaultclient.Create(vaultclient.Params{
			Files:             files,
			Load:              persistence.Load,
			Save:              persistence.Save,
			Remote:            remote,
			Watcher:           watch,
			Ignore:            ignore,
			NativeLineEndings: files.NativeLineEndings,
			Token:             cfg.Token,
			HistoryDB:         historyDB,
		})
		if err != nil {
			return err
		}

		seedInitialSettings(client, cfg)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		client.Start(ctx)
		defer client.Stop()

		if cfg.ClientToken == "" {
			token, err := utils.RandBase34(24)
			if err != nil {
				return fmt.Errorf("generate client token: %w", err)
			}
			cfg.ClientToken = token
			_ = cfg.Save()
		}

		srv, err := statusserver.New(statusserver.Config{Addr: clientAddr(cfg.ClientURL), Token: cfg.ClientToken}, client)
		if err != nil {
			slog.Warn("status server disabled", "error", err)
		} else {
			go func() {
				if err := srv.Start(); err != nil {
					slog.Error("status server stopped", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Stop(shutdownCtx)
			}()
		}

		defer slog.Info("Bye!")
		<-ctx.Done()
		return nil
	},
}

// seedInitialSettings populates SyncSettings from the bootstrap config on
// first run only, per spec §6 ("the CLI config seeds the initial
// SyncSettings on first run only").
func seedInitialSettings(client *vaultclient.Client, cfg *vsconfig.Config) {
	settings := client.GetSettings()
	if settings.RemoteURI != "" {
		return
	}
	_ = client.UpdateSettings(func(s *metadata.SyncSettings) {
		s.RemoteURI = cfg.RemoteURI
		s.Token = cfg.Token
		s.VaultName = filepath.Base(cfg.VaultDir)
		s.FetchIntervalMs = 1000
		s.UploadConcurrency = 4
		s.IsSyncEnabled = true
	})
}

func clientAddr(clientURL string) string {
	const fallback = "127.0.0.1:7938"
	if clientURL == "" {
		return fallback
	}
	trimmed := clientURL
	for _, prefix := range []string{"http://", "https://"} {
		if len(trimmed) > len(prefix) && trimmed[:len(prefix)] == prefix {
			trimmed = trimmed[len(prefix):]
			break
		}
	}
	return trimmed
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("remote", "r", vsconfig.DefaultRemoteURI, "VaultSync remote URI")
	rootCmd.Flags().StringP("vault", "d", vsconfig.DefaultVaultDir, "Vault directory")
	rootCmd.Flags().StringP("token", "t", "", "Bearer token for the remote")
	rootCmd.Flags().Bool("history-db", true, "Persist the sync history log to a local sqlite database")
	rootCmd.PersistentFlags().StringP("config", "c", vsconfig.DefaultConfigPath, "VaultSync config file")
}

func main() {
	logFile := vsconfig.DefaultLogFilePath
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".vaultsync"))
		viper.AddConfigPath(filepath.Join(home, ".config", "vaultsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("remote_uri", cmd.Flags().Lookup("remote"))
	viper.BindPFlag("vault_dir", cmd.Flags().Lookup("vault"))
	viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("history_db", cmd.Flags().Lookup("history-db"))

	viper.SetEnvPrefix("VAULTSYNC")
	viper.AutomaticEnv()

	return nil
}
