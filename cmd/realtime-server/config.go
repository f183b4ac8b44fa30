package main

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/desain-gratis/realtime/repository/principal"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Hub       HubConfig       `mapstructure:"hub"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Principal PrincipalConfig `mapstructure:"principal"`
	Schema    SchemaConfig    `mapstructure:"schema"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Address         string        `mapstructure:"address"`
	OriginPatterns  []string      `mapstructure:"origin_patterns"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`

	QueueSize       int           `mapstructure:"queue_size"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
}

type HubConfig struct {
	ID string `mapstructure:"id"`
}

type RelayConfig struct {
	// Driver is one of none, postgres, redis.
	Driver   string        `mapstructure:"driver"`
	Channel  string        `mapstructure:"channel"`
	Postgres string        `mapstructure:"postgres"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PrincipalConfig struct {
	KeyID  string `mapstructure:"key_id"`
	Secret string `mapstructure:"secret"`

	Postgres struct {
		DSN       string `mapstructure:"dsn"`
		Table     string `mapstructure:"table"`
		TimeoutMs int    `mapstructure:"timeout_ms"`
	} `mapstructure:"postgres"`

	Redis struct {
		RedisConfig `mapstructure:",squash"`
		TTL         time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Users seeds the in-memory repository when no postgres DSN is set.
	Users []UserConfig `mapstructure:"users"`
}

type UserConfig struct {
	UserID      string   `mapstructure:"user_id"`
	Root        bool     `mapstructure:"root"`
	Disabled    bool     `mapstructure:"disabled"`
	Permissions []string `mapstructure:"permissions"`
}

func (u UserConfig) Status() principal.Status {
	perms := make(map[string]bool, len(u.Permissions))
	for _, p := range u.Permissions {
		perms[p] = true
	}
	return principal.Status{
		UserID:      u.UserID,
		Root:        u.Root,
		Enabled:     !u.Disabled,
		Permissions: perms,
	}
}

type SchemaConfig struct {
	Dir            string   `mapstructure:"dir"`
	AllowAllEvents bool     `mapstructure:"allow_all_events"`
	Emits          []string `mapstructure:"emits"`
	Development    bool     `mapstructure:"development"`
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("http.address", "0.0.0.0:9090")
	viper.SetDefault("http.origin_patterns", []string{"http://localhost:*", "http://localhost"})
	viper.SetDefault("http.read_timeout", 2*time.Second)
	viper.SetDefault("http.shutdown_timeout", 30*time.Second)
	viper.SetDefault("http.queue_size", 256)
	viper.SetDefault("http.write_timeout", 10*time.Second)
	viper.SetDefault("http.ping_interval", 30*time.Second)
	viper.SetDefault("http.max_message_size", 32<<10)
	viper.SetDefault("relay.driver", "none")
	viper.SetDefault("relay.channel", "realtime_events")
	viper.SetDefault("relay.timeout", 5*time.Second)
	viper.SetDefault("principal.key_id", "development")
	viper.SetDefault("principal.postgres.table", "principal")
	viper.SetDefault("principal.postgres.timeout_ms", 2000)
	viper.SetDefault("principal.redis.ttl", time.Minute)
	viper.SetDefault("principal.cache_ttl", 10*time.Second)
}

func initConfig() {
	setDefaults()

	viper.SetEnvPrefix("REALTIME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			log.Fatal().Err(err).Msgf("failed to read config %v", cfgFile)
		}
		log.Info().Msgf("reading config: %v", cfgFile)
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatal().Err(err).Msgf("failed to unmarshal config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Msgf("unknown log level %q, using info", cfg.Log.Level)
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
