// Package config loads the settings of the tradeoffers command from the environment and an optional .env
// file. Every key has a default declared on its struct field; KEY_NAME in the environment overrides
// key.name.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/escrow-tf/tradeoffers/logging"
	"github.com/escrow-tf/tradeoffers/polling"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

type Config struct {
	Steam SteamConfig    `mapstructure:"steam"`
	Poll  PollConfig     `mapstructure:"poll"`
	Cache CacheConfig    `mapstructure:"cache"`
	Store StoreConfig    `mapstructure:"store"`
	Log   logging.Config `mapstructure:"log"`
}

type SteamConfig struct {
	WebApiKey    string `mapstructure:"web_api_key"`
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	SessionID    string `mapstructure:"session_id"`
	// SharedSecret and IdentitySecret are the base64 mobile authenticator secrets. Confirmations are
	// disabled without the identity secret.
	SharedSecret   string `mapstructure:"shared_secret"`
	IdentitySecret string `mapstructure:"identity_secret"`
	Language       string `mapstructure:"language" default:"english"`
	RetryMax       int    `mapstructure:"retry_max" default:"3"`
}

type PollConfig struct {
	Interval           time.Duration `mapstructure:"interval" default:"30s"`
	FullUpdateInterval time.Duration `mapstructure:"full_update_interval" default:"5m"`
	CancelAfter        time.Duration `mapstructure:"cancel_after" default:"0s"`
	AutoConfirm        bool          `mapstructure:"auto_confirm" default:"false"`
	ConfirmAttempts    int           `mapstructure:"confirm_attempts" default:"4"`
	ConfirmMinBackoff  time.Duration `mapstructure:"confirm_min_backoff" default:"1s"`
	ConfirmMaxBackoff  time.Duration `mapstructure:"confirm_max_backoff" default:"30s"`
}

type CacheConfig struct {
	Capacity     int `mapstructure:"capacity" default:"500"`
	WriteWorkers int `mapstructure:"write_workers" default:"4"`
	WriteQueue   int `mapstructure:"write_queue" default:"1024"`
}

const (
	FileDriver   = "file"
	SqliteDriver = "sqlite"
	RedisDriver  = "redis"
)

type StoreConfig struct {
	// Driver is file, sqlite or redis.
	Driver     string `mapstructure:"driver" default:"file"`
	Dir        string `mapstructure:"dir" default:"data"`
	Compress   bool   `mapstructure:"compress" default:"false"`
	SqlitePath string `mapstructure:"sqlite_path" default:"data/tradeoffers.db"`

	RedisAddr     string        `mapstructure:"redis_addr" default:"localhost:6379"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" default:"0"`
	RedisTLS      bool          `mapstructure:"redis_tls" default:"false"`
	RedisPrefix   string        `mapstructure:"redis_prefix" default:"tradeoffers:"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl" default:"0s"`
	// ResponseCache caches cacheable steam responses in redis. Only used with the redis driver.
	ResponseCache bool `mapstructure:"response_cache" default:"false"`
}

// Load loads configuration from environment variables and the .env file in dir, if there is one.
func Load(dir string) (*Config, error) {
	envPath := ".env"
	if dir != "" && dir != "." {
		envPath = strings.TrimSuffix(dir, "/") + "/.env"
	}

	// a missing .env is fine, the environment alone may be enough
	_ = godotenv.Overload(envPath)

	v := viper.New()
	bindValues(v, Config{}, "")

	// STORE_REDIS_ADDR -> store.redis_addr
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, eris.Wrap(err, "decoding configuration")
	}
	return &config, nil
}

// bindValues registers every mapstructure key with its default, so AutomaticEnv finds it.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}

// Validate rejects configurations the command cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Steam.AccessToken == "" && c.Steam.RefreshToken == "" {
		problems = append(problems, "steam.access_token or steam.refresh_token is required")
	}
	if c.Steam.RetryMax < 0 {
		problems = append(problems, "steam.retry_max must not be negative")
	}
	if c.Poll.Interval < polling.MinInterval {
		problems = append(problems, fmt.Sprintf("poll.interval must be at least %s", polling.MinInterval))
	}
	if c.Poll.FullUpdateInterval < c.Poll.Interval {
		problems = append(problems, "poll.full_update_interval must not be shorter than poll.interval")
	}
	if c.Poll.CancelAfter < 0 {
		problems = append(problems, "poll.cancel_after must not be negative")
	}
	if c.Poll.AutoConfirm && c.Steam.IdentitySecret == "" {
		problems = append(problems, "poll.auto_confirm needs steam.identity_secret")
	}
	if c.Poll.ConfirmAttempts < 1 {
		problems = append(problems, "poll.confirm_attempts must be at least 1")
	}
	if c.Poll.ConfirmMaxBackoff < c.Poll.ConfirmMinBackoff {
		problems = append(problems, "poll.confirm_max_backoff must not be shorter than poll.confirm_min_backoff")
	}
	if c.Cache.Capacity < 1 {
		problems = append(problems, "cache.capacity must be at least 1")
	}
	if c.Cache.WriteWorkers < 1 || c.Cache.WriteQueue < 1 {
		problems = append(problems, "cache.write_workers and cache.write_queue must be at least 1")
	}

	switch c.Store.Driver {
	case FileDriver:
		if c.Store.Dir == "" {
			problems = append(problems, "store.dir is required for the file driver")
		}
	case SqliteDriver:
		if c.Store.SqlitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	case RedisDriver:
		if c.Store.RedisAddr == "" {
			problems = append(problems, "store.redis_addr is required for the redis driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of file, sqlite, redis", c.Store.Driver))
	}

	if len(problems) > 0 {
		return eris.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
