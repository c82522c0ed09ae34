package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xraph/farmledger"
)

const (
	envLogLevel       = "FARMLEDGER_LOG_LEVEL"
	envProfileVersion = "FARMLEDGER_POSTING_PROFILE_VERSION"
)

type rootOptions struct {
	envFile string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "farmledger",
		Short:        "Farm accounting posting engine tools",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(opts.envFile); err != nil {
				return err
			}
			level, err := parseLevel(os.Getenv(envLogLevel))
			if err != nil {
				return err
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading FARMLEDGER_* variables")

	cmd.AddCommand(
		newSimulateCmd(opts),
		newKeyCmd(),
		newAccountsCmd(),
	)
	return cmd
}

// loadEnv loads a dotenv file. A missing default file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && path == ".env" {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	return godotenv.Load(path)
}

func parseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%s: %w", envLogLevel, err)
	}
	return level, nil
}

// profileVersion resolves the posting profile version: flag, then
// environment, then the engine default.
func profileVersion(flag string) string {
	if flag != "" {
		return flag
	}
	if v := strings.TrimSpace(os.Getenv(envProfileVersion)); v != "" {
		return v
	}
	return farmledger.DefaultPostingProfileVersion
}
