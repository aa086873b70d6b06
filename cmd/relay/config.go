package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		redacted := *cfg
		for _, secret := range []*string{
			&redacted.ViberBotToken,
			&redacted.NATSToken,
			&redacted.MonitorPassword,
			&redacted.JWTSecret,
			&redacted.AnthropicAPIKey,
			&redacted.OpenAIAPIKey,
		} {
			if *secret != "" {
				*secret = "****"
			}
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(&redacted)
	},
}

func init() {
	configCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "YAML config file")
	configCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
	configCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
}
