package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the configuration struct for the service.
type Config struct {
	// Symbols represents the tracked symbols.
	Symbols []string
	// FeedURL is the websocket feed endpoint.
	FeedURL string
	// FeedAPIKey is the feed API key.
	FeedAPIKey string
	// ModelManifest is the filepath to the model manifest.
	ModelManifest string
	// DiagnosticsFilepath is the filepath for the diagnostic record log.
	DiagnosticsFilepath string
	// DBEndpoint represents the database connection endpoint.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// RedisAddr is the redis broker address.
	RedisAddr string
	// RedisPass is the redis broker pass.
	RedisPass string
	// MetricsAddr is the metrics and liveness listen address.
	MetricsAddr string
	// Replay is the replay flag.
	Replay bool
	// ReplayFilepath is the filepath to the recorded replay data.
	ReplayFilepath string

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Symbols) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no symbols provided for reflex service"))
	}
	if cfg.ModelManifest == "" {
		errs = errors.Join(errs, fmt.Errorf("model manifest cannot be an empty string"))
	}

	switch cfg.Replay {
	case true:
		if cfg.ReplayFilepath == "" {
			errs = errors.Join(errs, fmt.Errorf("replay filepath cannot be an empty string"))
		}
	case false:
		if cfg.FeedURL == "" {
			errs = errors.Join(errs, fmt.Errorf("feed url cannot be an empty string"))
		}
		if cfg.FeedAPIKey == "" {
			errs = errors.Join(errs, fmt.Errorf("feed api key cannot be an empty string"))
		}
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("symbols", &cfg.Symbols, "the tracked symbols")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("feedurl", &cfg.FeedURL, "the websocket feed endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("feedapikey", &cfg.FeedAPIKey, "the feed api key")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("modelmanifest", &cfg.ModelManifest, "the model manifest filepath")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("diagnosticsfilepath", &cfg.DiagnosticsFilepath, "the diagnostic record log filepath")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbendpoint", &cfg.DBEndpoint, "the database connection endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbuser", &cfg.DBUser, "the database user")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbpass", &cfg.DBPass, "the database user pass")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("redisaddr", &cfg.RedisAddr, "the redis broker address")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("redispass", &cfg.RedisPass, "the redis broker pass")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("metricsaddr", &cfg.MetricsAddr, "the metrics listen address")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("replay", &cfg.Replay, "the replay flag")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("replayfilepath", &cfg.ReplayFilepath, "the replay data filepath")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
