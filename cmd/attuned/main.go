package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/attuneai/attune/internal/profile"
	"github.com/attuneai/attune/server"
	"github.com/attuneai/attune/store"
	"github.com/attuneai/attune/store/db/postgres"
	"github.com/attuneai/attune/store/db/sqlite"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "attuned",
	Short: "attuned is the real-time conversational coaching server",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prof, err := loadProfile()
		if err != nil {
			return err
		}

		logger := newLogger(prof)
		slog.SetDefault(logger)

		driver, err := newStoreDriver(prof)
		if err != nil {
			return err
		}
		st := store.New(driver, logger)

		srv, err := server.NewServer(prof, st, logger)
		if err != nil {
			_ = st.Close()
			return err
		}

		return srv.Start(ctx)
	},
}

func init() {
	viper.SetEnvPrefix("attune")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("mode", "demo", `server mode: "demo", "dev" or "prod"`)
	rootCmd.PersistentFlags().String("addr", "", "address to bind the server to")
	rootCmd.PersistentFlags().Int("port", 8230, "port to bind the server to")
	rootCmd.PersistentFlags().String("driver", "sqlite", `knowledge store driver: "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "knowledge store data source name")

	for _, name := range []string{"mode", "addr", "port", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func loadProfile() (*profile.Profile, error) {
	prof := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version,
	}
	prof.FromEnv()
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	return prof, nil
}

func newLogger(prof *profile.Profile) *slog.Logger {
	level := slog.LevelInfo
	if prof.IsDev() {
		level = slog.LevelDebug
	}
	if prof.Mode == "prod" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func newStoreDriver(prof *profile.Profile) (store.Driver, error) {
	switch prof.Driver {
	case "postgres":
		db, err := postgres.NewDB(prof.DSN)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		db, err := sqlite.NewDB(prof.DSN)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
