package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/modemd/internal/config"
	"github.com/modemd/internal/daemon"
	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/version"
)

type options struct {
	Config        string `short:"c" long:"config" env:"MODEMD_CONFIG" default:"/etc/modemd/modemd.yaml" description:"Configuration file path"`
	Debug         bool   `short:"d" long:"debug" description:"Log at debug level"`
	LogLevel      string `long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Override the configured log level"`
	Listen        string `long:"listen" value-name:"ADDR" description:"Override the API listen address"`
	NoDBus        bool   `long:"no-dbus" description:"Do not export modems on D-Bus"`
	ExampleConfig string `long:"create-example-config" value-name:"DIR" description:"Write modemd.example.yaml to DIR and exit"`
	Version       bool   `short:"V" long:"version" description:"Show version and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.Version {
		fmt.Printf("modemd %s\n", version.Get())
		os.Exit(0)
	}

	if opts.ExampleConfig != "" {
		if err := config.CreateExampleConfig(opts.ExampleConfig); err != nil {
			log.Fatalf("Failed to create example config: %v", err)
		}
		fmt.Printf("Example configuration written to %s\n", opts.ExampleConfig)
		os.Exit(0)
	}

	cfg, err := loadConfig(&opts)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logging.Initialize(cfg.Logging.ToLoggingConfig()); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.GetLogger().Close()

	logging.Info("modemd starting",
		"version", version.Get().String(),
		"config", opts.Config,
		logging.Count("modem", len(cfg.Modems)))

	d, err := daemon.New(cfg)
	if err != nil {
		logging.Error("Failed to initialize daemon", logging.Err(err))
		os.Exit(1)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				reloadLogging(&opts)
				continue
			}
			logging.Info("Received signal, shutting down", "signal", sig.String())
			cancel()
			return
		}
	}()

	if err := d.Run(ctx); err != nil {
		logging.Error("Daemon error", logging.Err(err))
		d.Close()
		os.Exit(1)
	}
	logging.Info("modemd stopped")
}

// loadConfig reads the configuration file and applies command line
// overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.LogLevel != "":
		cfg.Logging.Level = opts.LogLevel
	case opts.Debug:
		cfg.Logging.Level = "debug"
	}
	if opts.Listen != "" {
		cfg.API.Listen = opts.Listen
	}
	if opts.NoDBus {
		cfg.DBus.Enabled = false
	}
	return cfg, cfg.Validate()
}

// reloadLogging re-reads the logging section. Other changes need a
// restart.
func reloadLogging(opts *options) {
	cfg, err := loadConfig(opts)
	if err != nil {
		logging.Warn("Config reload failed, keeping current logging", logging.Err(err))
		return
	}
	if err := logging.GetLogger().Reload(cfg.Logging.ToLoggingConfig()); err != nil {
		logging.Warn("Logging reload failed", logging.Err(err))
		return
	}
	logging.Info("Logging configuration reloaded", "level", cfg.Logging.Level)
}
