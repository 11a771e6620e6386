// Package config handles pre-database configuration, such as the location of
// the database and the scheduler intervals.  This is used by both floormand
// and floormanadmin.
//
// Settings come from, in order of precedence: FLOORMAN_* environment
// variables, a .env file in the working directory, and $HOME/.floorman.yaml.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var defaults = map[string]any{
	"db_url":                   "",
	"sql_connector":            "pgx",
	"listen_address":           ":8080",
	"jwt_secret":               "",
	"allowed_origins":          "",
	"amqp_url":                 "",
	"amqp_queue":               "floorman.activity",
	"tick_interval":            "5s",
	"stale_interval":           "5m",
	"stale_threshold":          "24h",
	"starting_soon_interval":   "60s",
	"starting_soon_window":     "15m",
	"scheduler_concurrency":    8,
	"advance_timeout":          "10s",
	"template_cache_ttl":       "5m",
	"subscriber_stall_timeout": "2m",
	"log_level":                "info",
	"log_pretty":               false,
}

// Init loads configuration.  Call it once, before anything reads a setting.
func Init() {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("can't load .env")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".floorman")
	viper.AddConfigPath(home)
	for k, v := range defaults {
		viper.SetDefault(k, v)
		viper.BindEnv(k, "FLOORMAN_"+strings.ToUpper(k))
	}
	if err := viper.ReadInConfig(); err != nil {
		log.Debug().Err(err).Msg("no config file")
	}
}

// Set overrides a setting, for flags and tests.
func Set(key string, value any) {
	viper.Set(key, value)
}

func DBURL() string {
	return viper.GetString("db_url")
}

// SQLConnector is one of pgx, connector (Cloud SQL) or memory.
func SQLConnector() string {
	return viper.GetString("sql_connector")
}

func ListenAddress() string {
	return viper.GetString("listen_address")
}

func JWTSecret() []byte {
	return []byte(viper.GetString("jwt_secret"))
}

func AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(viper.GetString("allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AMQPURL is empty if the relay is off.
func AMQPURL() string {
	return viper.GetString("amqp_url")
}

func AMQPQueue() string {
	return viper.GetString("amqp_queue")
}

func TickInterval() time.Duration {
	return viper.GetDuration("tick_interval")
}

func StaleInterval() time.Duration {
	return viper.GetDuration("stale_interval")
}

// StaleThreshold is how long a tournament may sit in_progress before it is
// finished automatically.
func StaleThreshold() time.Duration {
	return viper.GetDuration("stale_threshold")
}

func StartingSoonInterval() time.Duration {
	return viper.GetDuration("starting_soon_interval")
}

func StartingSoonWindow() time.Duration {
	return viper.GetDuration("starting_soon_window")
}

func SchedulerConcurrency() int {
	return max(viper.GetInt("scheduler_concurrency"), 1)
}

func AdvanceTimeout() time.Duration {
	return viper.GetDuration("advance_timeout")
}

func TemplateCacheTTL() time.Duration {
	return viper.GetDuration("template_cache_ttl")
}

func SubscriberStallTimeout() time.Duration {
	return viper.GetDuration("subscriber_stall_timeout")
}

func LogLevel() string {
	return viper.GetString("log_level")
}

func LogPretty() bool {
	return viper.GetBool("log_pretty")
}
