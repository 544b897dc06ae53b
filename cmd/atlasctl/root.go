package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/atlas-slicer/internal/bootstrap"
	"github.com/kirillkom/atlas-slicer/internal/config"
	"github.com/kirillkom/atlas-slicer/internal/observability/logging"
	"github.com/spf13/cobra"
)

type commandContext struct {
	configFlag       string
	serviceURLFlag   string
	downloadModeFlag string
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "atlasctl",
		Short:         "Upload PNG images to the atlas slicing service and fetch the results",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&ctx.serviceURLFlag, "service-url", "", "Base address of the atlas service")
	rootCmd.PersistentFlags().StringVar(&ctx.downloadModeFlag, "download-mode", "", "How results are retrieved: save or browser")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newShellCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

// loadConfig resolves file, env and flag values, in that order of precedence
// from lowest to highest.
func (c *commandContext) loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(c.configFlag)
	if err != nil {
		return config.Config{}, err
	}
	if v := strings.TrimSpace(c.serviceURLFlag); v != "" {
		cfg.ServiceURL = v
	}
	if v := strings.TrimSpace(c.downloadModeFlag); v != "" {
		cfg.DownloadMode = strings.ToLower(v)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *commandContext) openApp(cmd *cobra.Command) (*bootstrap.App, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New("atlasctl", cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	app, err := bootstrap.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app, nil
}
