package main

import (
	"github.com/kkk0312/mdia/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if defaults {
				_, err := cmd.OutOrStdout().Write(config.DefaultYAML())
				return err
			}
			data, err := effectiveYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "print the built-in defaults instead")
	return cmd
}

// effectiveYAML renders the merged settings with the API key masked.
func effectiveYAML() ([]byte, error) {
	v := viper.New()
	path, required := configPath()
	if _, err := config.Load(v, path, required); err != nil {
		return nil, err
	}
	if v.GetString("model.api_key") != "" {
		v.Set("model.api_key", "***")
	}
	return config.Render(v.AllSettings())
}
