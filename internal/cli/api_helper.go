package cli

import (
	"fmt"
	"os"

	"github.com/rescale/sheetjobs/internal/api"
	"github.com/rescale/sheetjobs/internal/config"
	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/events"
	"github.com/rescale/sheetjobs/internal/lifecycle"
	"github.com/rescale/sheetjobs/internal/logging"
	"github.com/rescale/sheetjobs/internal/progress"
	"github.com/rescale/sheetjobs/internal/roster"
)

// loadConfig merges the config file, environment and flags, asks for a
// missing proxy password on a terminal and validates the result.
// Priority: flags > environment > config file > defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.MergeWithEnvironment()
	cfg.MergeWithFlags(apiBaseURL)

	if cfg.NeedsProxyPassword() && progress.IsTerminal(os.Stdin) {
		password, err := promptPassword(fmt.Sprintf("Proxy password for %s: ", cfg.ProxyUser))
		if err != nil {
			return nil, fmt.Errorf("failed to read proxy password: %w", err)
		}
		cfg.ProxyPassword = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	applyLogSettings(cfg)
	return cfg, nil
}

// applyLogSettings honours [log] unless --verbose or --debug already set the level
func applyLogSettings(cfg *config.Config) {
	log := GetLogger()
	if !verbose && !debug {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	}
	if cfg.LogFile {
		if err := config.EnsureLogDirectory(); err != nil {
			log.Warn().Err(err).Msg("Could not create log directory")
			return
		}
		if err := log.EnableFileOutput(config.LogDirectory(), constants.AppName); err != nil {
			log.Warn().Err(err).Msg("Could not open log file")
		}
	}
}

// getAPIClient loads configuration and creates an API client.
func getAPIClient() (*config.Config, *api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	client, err := api.NewClient(cfg, GetLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return cfg, client, nil
}

// app holds the controllers shared by the submit, watch and shell commands.
type app struct {
	cfg     *config.Config
	client  *api.Client
	bus     *events.EventBus
	session *lifecycle.Controller
	roster  *roster.Controller
}

func newApp() (*app, error) {
	cfg, client, err := getAPIClient()
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	log := GetLogger()

	return &app{
		cfg:    cfg,
		client: client,
		bus:    bus,
		session: lifecycle.NewController(client, lifecycle.Options{
			PollInterval: cfg.StatusPollInterval,
			Bus:          bus,
			Logger:       log,
		}),
		roster: roster.NewController(client, roster.Options{
			RefreshInterval: cfg.RosterRefreshInterval,
			Bus:             bus,
			Logger:          log,
		}),
	}, nil
}

// Close stops all timers and the event bus.
func (a *app) Close() {
	a.session.Reset()
	a.roster.Deactivate()
	a.bus.Close()
}
