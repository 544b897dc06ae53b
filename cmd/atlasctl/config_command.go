package main

import (
	"fmt"
	"strconv"

	"github.com/kirillkom/atlas-slicer/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, configRows(cfg)))
			return nil
		},
	}
}

func configRows(cfg config.Config) [][]string {
	return [][]string{
		{"service_url", cfg.ServiceURL},
		{"log_level", cfg.LogLevel},
		{"log_format", cfg.LogFormat},
		{"request_timeout", cfg.RequestTimeout().String()},
		{"rate_limit_rps", strconv.FormatFloat(cfg.RateLimitRPS, 'g', -1, 64)},
		{"rate_limit_burst", strconv.Itoa(cfg.RateLimitBurst)},
		{"retry_max_attempts", strconv.Itoa(cfg.RetryMaxAttempts)},
		{"breaker_enabled", strconv.FormatBool(cfg.BreakerEnabled)},
		{"breaker_min_requests", strconv.Itoa(cfg.BreakerMinRequests)},
		{"breaker_failure_ratio", strconv.FormatFloat(cfg.BreakerFailureRatio, 'g', -1, 64)},
		{"breaker_open_timeout_seconds", strconv.Itoa(cfg.BreakerOpenTimeoutSeconds)},
		{"contract_validation", strconv.FormatBool(cfg.ContractValidation)},
		{"preview_dir", orDash(cfg.PreviewDir)},
		{"download_mode", cfg.DownloadMode},
		{"download_dir", cfg.DownloadDir},
		{"nats_url", orDash(cfg.NATSURL)},
		{"nats_subject", cfg.NATSSubject},
		{"metrics_addr", orDash(cfg.MetricsAddr)},
		{"control_api", strconv.FormatBool(cfg.ControlAPI)},
	}
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
