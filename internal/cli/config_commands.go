// Package cli provides configuration management commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/sheetjobs/internal/api"
	"github.com/rescale/sheetjobs/internal/config"
	"github.com/rescale/sheetjobs/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage sheetjobs configuration",
		Long: `Configuration management commands for sheetjobs.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the connection to the processing service
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for sheetjobs.

The configuration will be saved to ~/.config/sheetjobs/config.ini

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := promptConfig(bufio.NewReader(os.Stdin), os.Stdout)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")

			fmt.Println()
			fmt.Printf("✓ Configuration saved to: %s\n", path)
			if cfg.ProxyUser != "" {
				fmt.Println()
				fmt.Println("The proxy password is never stored. Provide it with:")
				fmt.Printf("  export %s=...\n", config.EnvProxyPassword)
				fmt.Println("or enter it when prompted.")
			}
			fmt.Println()
			fmt.Println("Test your configuration with: sheetjobs config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// promptConfig asks for each setting, offering the defaults.
func promptConfig(r *bufio.Reader, w io.Writer) *config.Config {
	cfg := config.NewConfig()

	fmt.Fprintln(w, "sheetjobs Configuration Setup")
	fmt.Fprintln(w, "=============================")
	fmt.Fprintln(w)

	cfg.APIBaseURL = promptString(r, w, "Service base URL", cfg.APIBaseURL)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Refresh Settings (press Enter for defaults)")
	fmt.Fprintln(w, "-------------------------------------------")
	cfg.StatusPollInterval = time.Duration(promptInt(r, w, "Status poll interval (ms)", int(cfg.StatusPollInterval/time.Millisecond))) * time.Millisecond
	cfg.RosterRefreshInterval = time.Duration(promptInt(r, w, "Jobs refresh interval (seconds)", int(cfg.RosterRefreshInterval/time.Second))) * time.Second
	cfg.DownloadOutput = promptString(r, w, "Default download destination", cfg.DownloadOutput)

	fmt.Fprintln(w)
	if promptYesNo(r, w, "Configure proxy?") {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Proxy Configuration")
		fmt.Fprintln(w, "-------------------")
		fmt.Fprintln(w, "Proxy modes: no-proxy, system, basic, ntlm")
		cfg.ProxyMode = promptString(r, w, "Proxy mode", "system")
		if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
			cfg.ProxyHost = promptString(r, w, "Proxy host", "")
			cfg.ProxyPort = promptInt(r, w, "Proxy port", constants.DefaultProxyPort)
			cfg.ProxyUser = promptString(r, w, "Proxy user (empty for none)", "")
			cfg.NoProxy = promptString(r, w, "Hosts that bypass the proxy (comma-separated)", "")
		}
	}

	return cfg
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/sheetjobs/config.ini)
  2. Environment variables (SHEETJOBS_API_URL, SHEETJOBS_PROXY_PASSWORD, SHEETJOBS_S3_SECRET_ACCESS_KEY)
  3. Command-line flags (--api-url)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			cfg.MergeWithEnvironment()
			cfg.MergeWithFlags(apiBaseURL)

			printConfig(cmd.OutOrStdout(), cfg)

			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Service:")
	fmt.Fprintf(w, "  Base URL:        %s\n", cfg.APIBaseURL)
	fmt.Fprintf(w, "  Request Timeout: %s\n", cfg.RequestTimeout)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Polling:")
	fmt.Fprintf(w, "  Status Interval: %s\n", cfg.StatusPollInterval)
	fmt.Fprintf(w, "  Jobs Interval:   %s\n", cfg.RosterRefreshInterval)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy Settings:")
	fmt.Fprintf(w, "  Proxy Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(w, "  Proxy Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(w, "  Proxy Port: %d\n", cfg.ProxyPort)
	}
	if cfg.ProxyUser != "" {
		fmt.Fprintf(w, "  Proxy User: %s\n", cfg.ProxyUser)
		fmt.Fprintf(w, "  Password:   %s\n", secretState(cfg.ProxyPassword))
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(w, "  No Proxy:   %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Download:")
	fmt.Fprintf(w, "  Destination: %s\n", cfg.DownloadOutput)
	fmt.Fprintf(w, "  Max Retries: %d\n", cfg.DownloadMaxRetries)
	if cfg.S3Region != "" || cfg.S3Endpoint != "" || cfg.S3AccessKeyID != "" {
		fmt.Fprintf(w, "  S3 Region:   %s\n", cfg.S3Region)
		if cfg.S3Endpoint != "" {
			fmt.Fprintf(w, "  S3 Endpoint: %s\n", cfg.S3Endpoint)
		}
		if cfg.S3AccessKeyID != "" {
			fmt.Fprintf(w, "  S3 Key ID:   %s\n", cfg.S3AccessKeyID)
			fmt.Fprintf(w, "  S3 Secret:   %s\n", secretState(cfg.S3SecretAccessKey))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Logging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.LogLevel)
	if cfg.LogFile {
		fmt.Fprintf(w, "  File:  %s\n", config.LogDirectory())
	}
}

// secretState never reveals any part of a secret
func secretState(s string) string {
	if s == "" {
		return "<not set>"
	}
	return "<set>"
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the connection to the processing service",
		Long: `Fetch the job list once to verify the service address and the proxy settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()

			fmt.Println("Testing Connection")
			fmt.Println("==================")
			fmt.Println()

			_, client, err := getAPIClient()
			if err != nil {
				return err
			}

			fmt.Printf("Service URL: %s\n", client.BaseURL())
			fmt.Println("Testing connection...")
			fmt.Println()

			ctx, cancel := context.WithTimeout(GetContext(), 10*time.Second)
			defer cancel()

			jobs, err := client.ListJobs(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Connection test failed")
				fmt.Println("✗ Connection FAILED")
				fmt.Printf("  Error: %v\n", err)
				if api.IsNetworkError(err) {
					fmt.Println("  Check the base URL and proxy settings.")
				}
				return fmt.Errorf("connection test failed")
			}

			log.Info().Msg("Connection test successful")
			fmt.Println("✓ Connection SUCCESSFUL")
			fmt.Printf("  %d job(s) known to the service\n", len(jobs))
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if cfgFile == "" {
				fmt.Println("Default configuration path:")
			} else {
				fmt.Println("Configuration path (from --config flag):")
			}

			fmt.Printf("  %s\n", path)
			fmt.Println()

			if info, err := os.Stat(path); err == nil {
				fmt.Println("Status: ✓ File exists")
				fmt.Printf("Size:   %d bytes\n", info.Size())
				fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Println("Status: File does not exist")
				fmt.Println()
				fmt.Println("Create a configuration file with: sheetjobs config init")
			}

			return nil
		},
	}
}
