// Package config resolves runtime settings. Precedence, highest first:
// command-line flags, environment (with an optional .env file below the real
// environment), a YAML file, built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/maaaruch/gather-bot/internal/storage"
)

type Config struct {
	TelegramToken string  `yaml:"telegram_token"`
	StoreDriver   string  `yaml:"store_driver"`
	StoreDSN      string  `yaml:"store_dsn"`
	RedisAddr     string  `yaml:"redis_addr"`
	RedisPassword string  `yaml:"redis_password"`
	RedisDB       int     `yaml:"redis_db"`
	IdentitySalt  string  `yaml:"identity_salt"`
	SendRate      float64 `yaml:"send_rate"`
	SendBurst     int     `yaml:"send_burst"`
	Debug         bool    `yaml:"debug"`
	LogLevel      string  `yaml:"log_level"`
	LogFormat     string  `yaml:"log_format"`

	// Args are the positional arguments left after flags.
	Args []string `yaml:"-"`
}

func Defaults() Config {
	return Config{
		StoreDriver:  storage.DriverSQLite3,
		StoreDSN:     "data/data.db",
		RedisAddr:    "localhost:6379",
		IdentitySalt: "dev_salt_change_me",
		SendRate:     20,
		SendBurst:    5,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads flags from args and the process environment.
func Load(name string, args []string) (Config, error) {
	return load(name, args, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func load(name string, args []string, lookup lookupFunc) (Config, error) {
	cfg := Defaults()
	var fl Config
	var configPath, envFile string

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "YAML config file (or GATHER_CONFIG)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file read below the real environment")
	flags.StringVar(&fl.TelegramToken, "token", "", "Telegram bot token (prefer TELEGRAM_BOT_TOKEN)")
	flags.StringVar(&fl.StoreDriver, "store", "", "identity store: sqlite3, sqlite, postgres or redis")
	flags.StringVar(&fl.StoreDSN, "dsn", "", "database path or URL")
	flags.StringVar(&fl.RedisAddr, "redis-addr", "", "redis address")
	flags.IntVar(&fl.RedisDB, "redis-db", 0, "redis database number")
	flags.StringVar(&fl.IdentitySalt, "salt", "", "salt for hashing account ids (prefer IDENTITY_SALT)")
	flags.Float64Var(&fl.SendRate, "send-rate", 0, "outbound messages per second")
	flags.IntVar(&fl.SendBurst, "send-burst", 0, "outbound burst size")
	flags.BoolVar(&fl.Debug, "debug", false, "log Telegram API traffic")
	flags.StringVar(&fl.LogLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&fl.LogFormat, "log-format", "", "text or json")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	explicit := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	dotenv, err := readDotenv(envFile, explicit["env-file"])
	if err != nil {
		return Config{}, err
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}

	if configPath == "" {
		configPath, _ = env("GATHER_CONFIG")
	}
	if configPath != "" {
		if err := readYAML(configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	for f := range explicit {
		switch f {
		case "token":
			cfg.TelegramToken = fl.TelegramToken
		case "store":
			cfg.StoreDriver = fl.StoreDriver
		case "dsn":
			cfg.StoreDSN = fl.StoreDSN
		case "redis-addr":
			cfg.RedisAddr = fl.RedisAddr
		case "redis-db":
			cfg.RedisDB = fl.RedisDB
		case "salt":
			cfg.IdentitySalt = fl.IdentitySalt
		case "send-rate":
			cfg.SendRate = fl.SendRate
		case "send-burst":
			cfg.SendBurst = fl.SendBurst
		case "debug":
			cfg.Debug = fl.Debug
		case "log-level":
			cfg.LogLevel = fl.LogLevel
		case "log-format":
			cfg.LogFormat = fl.LogFormat
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Args = flags.Args()
	return cfg, nil
}

func readDotenv(path string, required bool) (map[string]string, error) {
	m, err := godotenv.Read(path)
	if err == nil {
		return m, nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return nil, fmt.Errorf("read env file %q: %w", path, err)
}

func readYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok {
			*dst = v
		}
	}
	str("TELEGRAM_BOT_TOKEN", &cfg.TelegramToken)
	str("STORE_DRIVER", &cfg.StoreDriver)
	str("STORE_DSN", &cfg.StoreDSN)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("IDENTITY_SALT", &cfg.IdentitySalt)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	if v, ok := env("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.RedisDB = n
	}
	if v, ok := env("SEND_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SEND_RATE %q: %w", v, err)
		}
		cfg.SendRate = f
	}
	if v, ok := env("SEND_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SEND_BURST %q: %w", v, err)
		}
		cfg.SendBurst = n
	}
	if v, ok := env("BOT_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BOT_DEBUG %q: %w", v, err)
		}
		cfg.Debug = b
	}
	return nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case storage.DriverSQLite3, storage.DriverSQLite, storage.DriverPostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("store %s needs a DSN", c.StoreDriver)
		}
	case storage.DriverRedis:
		if c.RedisAddr == "" {
			return errors.New("store redis needs REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.SendRate <= 0 {
		return fmt.Errorf("send rate must be positive, got %v", c.SendRate)
	}
	if c.SendBurst < 1 {
		return fmt.Errorf("send burst must be at least 1, got %d", c.SendBurst)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

func (c Config) StoreOptions() storage.Options {
	return storage.Options{
		Driver:        c.StoreDriver,
		DSN:           c.StoreDSN,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}

// Logger builds the process logger described by LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
