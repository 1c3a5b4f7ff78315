package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rpattn/reportql/internal/db"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the full service configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Cache    CacheConfig
	Export   ExportConfig
	Log      LogConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// CacheConfig sizes the caller-owned caches used by report builds.
type CacheConfig struct {
	JoinEntries   int
	ResultEntries int
}

// ExportConfig controls where generated export files land.
type ExportConfig struct {
	Directory string
}

// LogConfig selects the zap preset.
type LogConfig struct {
	Development bool
	Level       string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
		},
		Cache: CacheConfig{
			JoinEntries:   64,
			ResultEntries: 256,
		},
		Export: ExportConfig{
			Directory: "exports",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var envKeys = []string{
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.dbname",
	"database.sslmode",
	"database.maxconns",
	"server.addr",
	"server.allowedorigins",
	"server.readtimeout",
	"server.writetimeout",
	"server.idletimeout",
	"cache.joinentries",
	"cache.resultentries",
	"export.directory",
	"log.development",
	"log.level",
}

// Load reads config.yaml from configPath and applies REPORTQL_* environment
// overrides such as REPORTQL_DATABASE_HOST. A missing file is not an error.
func Load(configPath string, logger *zap.Logger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("REPORTQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
		logger.Info("no config.yaml found, using defaults and env vars", zap.String("path", configPath))
	} else {
		logger.Info("loaded config", zap.String("file", v.ConfigFileUsed()))
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.maxconns") {
		cfg.Database.MaxConns = v.GetInt32("database.maxconns")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowedorigins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowedorigins")
	}
	if v.IsSet("server.readtimeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.readtimeout")
	}
	if v.IsSet("server.writetimeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.writetimeout")
	}
	if v.IsSet("server.idletimeout") {
		cfg.Server.IdleTimeout = v.GetDuration("server.idletimeout")
	}

	if v.IsSet("cache.joinentries") {
		cfg.Cache.JoinEntries = v.GetInt("cache.joinentries")
	}
	if v.IsSet("cache.resultentries") {
		cfg.Cache.ResultEntries = v.GetInt("cache.resultentries")
	}
	if v.IsSet("export.directory") {
		cfg.Export.Directory = v.GetString("export.directory")
	}
	if v.IsSet("log.development") {
		cfg.Log.Development = v.GetBool("log.development")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}

	return cfg, nil
}

// NewLogger builds the zap logger described by the log section.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
