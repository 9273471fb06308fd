package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kkk0312/mdia/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory and write the default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.Info().Str("dir", dataDir).Msg("creating data directory")
			if err := os.MkdirAll(filepath.Join(dataDir, "locks"), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			path, _ := configPath()
			_, err := os.Stat(path)
			switch {
			case err == nil && !force:
				log.Info().Str("path", path).Msg("config already exists, skipping")
			case err == nil || errors.Is(err, fs.ErrNotExist):
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return fmt.Errorf("create config dir: %w", err)
				}
				settings, err := config.DefaultSettings()
				if err != nil {
					return err
				}
				data, err := config.Render(settings)
				if err != nil {
					return err
				}
				log.Info().Str("path", path).Msg("installing default config")
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write default config: %w", err)
				}
			default:
				return fmt.Errorf("stat config: %w", err)
			}

			_, closeFn, err := openDB()
			if err != nil {
				return err
			}
			closeFn()

			fmt.Fprintln(cmd.OutOrStdout(), "mdia initialized successfully")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
