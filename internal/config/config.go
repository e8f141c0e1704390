// Package config holds the daemon's single flat configuration record,
// decoded once at startup. Every recognized option is a struct field;
// unknown keys
// in the file are a hard error, surfaced through the decoder's undecoded
// metadata.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
)

// Option defaults.
const (
	DefaultSocketPath       = "/var/run/wdhwd/hws.sock"
	DefaultSocketMaxClients = 10
	DefaultIntensityNormal  = 100
	DefaultIntensityDimmed  = 0
	DefaultDimTimeout       = 60
)

// Config is the complete recognized option set.
type Config struct {
	PMCPort string `toml:"pmc_port"`

	SocketPath       string `toml:"socket_path"`
	SocketGroup      string `toml:"socket_group"`
	SocketMaxClients int    `toml:"socket_max_clients"`

	LogFile string `toml:"log_file"`
	Logging string `toml:"logging"`

	SystemUpCommand   string `toml:"system_up_command"`
	SystemDownCommand string `toml:"system_down_command"`

	DrivePresenceChangedCommand string `toml:"drive_presence_changed_command"`
	PowerSupplyChangedCommand   string `toml:"power_supply_changed_command"`
	TemperatureChangedCommand   string `toml:"temperature_changed_command"`

	USBCopyButtonCommand     string `toml:"usb_copy_button_command"`
	USBCopyButtonLongCommand string `toml:"usb_copy_button_long_command"`
	LCDUpButtonCommand       string `toml:"lcd_up_button_command"`
	LCDUpButtonLongCommand   string `toml:"lcd_up_button_long_command"`
	LCDDownButtonCommand     string `toml:"lcd_down_button_command"`
	LCDDownButtonLongCommand string `toml:"lcd_down_button_long_command"`

	LCDIntensityNormal int `toml:"lcd_intensity_normal"`
	LCDIntensityDimmed int `toml:"lcd_intensity_dimmed"`
	LCDDimTimeout      int `toml:"lcd_dim_timeout"`
}

// Default returns a config populated with every option's default value.
func Default() *Config {
	return &Config{
		SocketPath:         DefaultSocketPath,
		SocketMaxClients:   DefaultSocketMaxClients,
		LCDIntensityNormal: DefaultIntensityNormal,
		LCDIntensityDimmed: DefaultIntensityDimmed,
		LCDDimTimeout:      DefaultDimTimeout,
	}
}

// Load decodes the file at path over the defaults and validates the
// result. A missing file is an error: the daemon is not usable without its
// socket configuration.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "config.Load", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errs.New(errs.ConfigInvalid, "config.Load",
			"unknown options: "+strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges and the logging spec's syntax.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errs.New(errs.ConfigInvalid, "config.Validate", "socket_path must not be empty")
	}
	if c.SocketMaxClients <= 0 {
		return errs.New(errs.ConfigInvalid, "config.Validate", "socket_max_clients must be positive")
	}
	if c.LCDIntensityNormal < 0 || c.LCDIntensityNormal > 100 {
		return errs.New(errs.ConfigInvalid, "config.Validate", "lcd_intensity_normal must be in 0..100")
	}
	if c.LCDIntensityDimmed < 0 || c.LCDIntensityDimmed > 100 {
		return errs.New(errs.ConfigInvalid, "config.Validate", "lcd_intensity_dimmed must be in 0..100")
	}
	if c.LCDDimTimeout <= 0 {
		return errs.New(errs.ConfigInvalid, "config.Validate", "lcd_dim_timeout must be positive")
	}
	if _, err := ParseLogSpec(c.Logging); err != nil {
		return err
	}
	return nil
}

// ParseLogSpec parses the "module:level;module:level" logging option into
// per-component level overrides; "critical" maps to the fatal level. An
// empty spec yields an empty map.
func ParseLogSpec(spec string) (map[string]zerolog.Level, error) {
	overrides := make(map[string]zerolog.Level)
	if spec == "" {
		return overrides, nil
	}
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		module, levelName, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errs.New(errs.ConfigInvalid, "config.ParseLogSpec",
				fmt.Sprintf("entry %q is not module:level", entry))
		}
		level, err := parseLevel(strings.TrimSpace(levelName))
		if err != nil {
			return nil, err
		}
		overrides[strings.TrimSpace(module)] = level
	}
	return overrides, nil
}

func parseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warning", "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "critical":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.NoLevel, errs.New(errs.ConfigInvalid, "config.ParseLogSpec",
			fmt.Sprintf("unknown log level %q", name))
	}
}

// LevelFor returns the configured override for component, or base when the
// spec names no override. A "*" entry applies to every component.
func LevelFor(overrides map[string]zerolog.Level, component string, base zerolog.Level) zerolog.Level {
	if lvl, ok := overrides[component]; ok {
		return lvl
	}
	if lvl, ok := overrides["*"]; ok {
		return lvl
	}
	return base
}
