// Package config loads knolroom settings. Sources are applied in order:
// built-in defaults, an optional YAML file, KNOLROOM_ environment variables
// and command-line flags. Later sources win.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolroom/internal/srs"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates nested keys: KNOLROOM_STORAGE__IO_TIMEOUT sets storage.io_timeout.
const EnvPrefix = "KNOLROOM_"

type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Storage  Storage  `koanf:"storage"`
	Log      Log      `koanf:"log"`
	Schedule Schedule `koanf:"schedule"`
	Import   Import   `koanf:"import"`
}

type HTTP struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type Storage struct {
	Backend   string        `koanf:"backend" validate:"oneof=file sqlite postgres"`
	Dir       string        `koanf:"dir" validate:"required_if=Backend file"`
	DSN       string        `koanf:"dsn" validate:"required_unless=Backend file"`
	IOTimeout time.Duration `koanf:"io_timeout" validate:"gt=0"`
}

type Log struct {
	Level       string `koanf:"level" validate:"oneof=debug info warn error"`
	Development bool   `koanf:"development"`
}

// Schedule mirrors srs.Params.
type Schedule struct {
	HardFactor           float64       `koanf:"hard_factor" validate:"gt=0"`
	GoodFactor           float64       `koanf:"good_factor" validate:"gt=0"`
	EasyFactor           float64       `koanf:"easy_factor" validate:"gt=0"`
	MinInterval          time.Duration `koanf:"min_interval" validate:"gte=0"`
	MaxInterval          time.Duration `koanf:"max_interval" validate:"gtefield=MinInterval"`
	FirstSuccessInterval time.Duration `koanf:"first_success_interval" validate:"gte=0"`
}

type Import struct {
	ReposDir  string `koanf:"repos_dir" validate:"required"`
	LocalRoot string `koanf:"local_root"`
}

// Params converts the schedule section for the scheduler.
func (s Schedule) Params() *srs.Params {
	return &srs.Params{
		HardFactor:           s.HardFactor,
		GoodFactor:           s.GoodFactor,
		EasyFactor:           s.EasyFactor,
		MinInterval:          s.MinInterval,
		MaxInterval:          s.MaxInterval,
		FirstSuccessInterval: s.FirstSuccessInterval,
	}
}

func defaults() map[string]any {
	p := srs.DefaultParams()
	return map[string]any{
		"http.addr":                       ":8080",
		"http.shutdown_timeout":           10 * time.Second,
		"storage.backend":                 "file",
		"storage.dir":                     "data",
		"storage.dsn":                     "",
		"storage.io_timeout":              5 * time.Second,
		"log.level":                       "info",
		"log.development":                 false,
		"schedule.hard_factor":            p.HardFactor,
		"schedule.good_factor":            p.GoodFactor,
		"schedule.easy_factor":            p.EasyFactor,
		"schedule.min_interval":           p.MinInterval,
		"schedule.max_interval":           p.MaxInterval,
		"schedule.first_success_interval": p.FirstSuccessInterval,
		"import.repos_dir":                "repos",
		"import.local_root":               "",
	}
}

// Load parses args (without the program name) and builds the Config.
// pflag.ErrHelp is returned as is when -h or --help is given.
func Load(args []string) (*Config, error) {
	def := defaults()

	fs := pflag.NewFlagSet("knolroom", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("http.addr", def["http.addr"].(string), "HTTP listen address")
	fs.String("storage.backend", def["storage.backend"].(string), "record store backend: file, sqlite or postgres")
	fs.String("storage.dir", def["storage.dir"].(string), "directory for the file backend")
	fs.String("storage.dsn", "", "database DSN for the sqlite and postgres backends")
	fs.String("log.level", def["log.level"].(string), "log level: debug, info, warn or error")
	fs.Bool("log.development", false, "human readable console logs")
	fs.String("import.local_root", "", "directory local deck imports must live in")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	for key, v := range def {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("default %s: %w", key, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Only flags set on the command line override what is already loaded.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the scheduling policy.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("koanf") })
	if err := v.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s: %s %s", configKey(fe.Namespace()), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Schedule.Params().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// configKey drops the root struct name from a validator namespace,
// leaving the dotted config key.
func configKey(ns string) string {
	_, key, _ := strings.Cut(ns, ".")
	return key
}
