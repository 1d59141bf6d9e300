package cmd

import (
	"io"
	"os"
	"path/filepath"

	"grimm.is/setguard/internal/brand"
	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/feed"
	"grimm.is/setguard/internal/i18n"
	"grimm.is/setguard/internal/lifecycle"
	"grimm.is/setguard/internal/logging"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// DefaultConfigFile is used when -c is not given.
var DefaultConfigFile = filepath.Join(brand.DefaultConfigDir, brand.ConfigFileName)

// Env is everything one invocation needs. Close releases it.
type Env struct {
	ConfigFile string
	Config     *config.Config
	Logger     *logging.Logger
	Controller *lifecycle.Controller

	closers []io.Closer
}

// loadConfig loads configFile and builds the process logger from it.
func loadConfig(configFile string) (*Env, error) {
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}

	env := &Env{ConfigFile: configFile, Config: cfg}
	if err := env.setupLogging(); err != nil {
		return nil, err
	}
	return env, nil
}

// Open loads the configuration and wires the controller to the kernel backend.
func Open(configFile string) (*Env, error) {
	env, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	b, err := openBackend(env.Config)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, b)

	cfg := env.Config
	env.Controller = lifecycle.New(lifecycle.Options{
		Config: cfg,
		Sets:   b.Sets,
		Rules:  b.Rules,
		Fetcher: feed.New(feed.Options{
			Timeout:  cfg.FeedTimeoutDuration(),
			MaxBytes: cfg.MaxFeedBytes,
		}),
		Routes:     b.Routes,
		Detacher:   newDetacher(env),
		Logger:     env.Logger,
		ListLogger: env.listLogger,
	})
	return env, nil
}

func (e *Env) setupLogging() error {
	cfg := logging.DefaultConfig()
	if e.Config.LogLevel != "" {
		level, err := logging.ParseLevel(e.Config.LogLevel)
		if err != nil {
			return errors.Wrap(err, errors.KindConfig, "invalid log_level")
		}
		cfg.Level = level
	}

	if e.Config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(e.Config.LogFile), 0o750); err != nil {
			return errors.Wrap(err, errors.KindConfig, "failed to create log directory")
		}
		f, err := os.OpenFile(e.Config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return errors.Wrap(err, errors.KindConfig, "failed to open log file")
		}
		e.closers = append(e.closers, f)
		cfg.Output = io.MultiWriter(os.Stderr, f)
	}

	e.Logger = logging.New(cfg)
	logging.SetDefault(e.Logger)
	return nil
}

func (e *Env) listLogger(list string) (*logging.Logger, io.Closer) {
	sc := logging.SyslogConfig{}
	if s := e.Config.Syslog; e.Config.SyslogEnabled() {
		sc = logging.DefaultSyslogConfig()
		sc.Network = s.Network
		sc.Address = s.Address
		sc.Facility = s.Facility
	}
	return logging.ForList(e.Logger, list, sc)
}

// Close releases backend handles and the log file.
func (e *Env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
	e.closers = nil
}
