package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

var (
	envFilePath string
	parseOnce   sync.Once
)

type validator interface {
	Validate() error
}

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New loads the env file named by -env or ENV_FILE (falling back to an optional
// ./.env) and fills T from variables under prefix.
func New[T any](prefix string) (*T, error) {
	path, explicit := resolveEnvPath()
	if !explicit && !fileExists(path) {
		path = ""
	}
	return Load[T](prefix, path)
}

// Load is New with an explicit env file; an empty path reads the process
// environment only. Variables already set in the process win over the file.
func Load[T any](prefix string, path string) (*T, error) {
	if path != "" {
		if err := exportEnvFile(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}
	if v, ok := any(&conf).(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &conf, nil
}

func resolveEnvPath() (string, bool) {
	parseOnce.Do(func() {
		if flag.Lookup("env") == nil {
			flag.StringVar(&envFilePath, "env", "", "path to .env file")
		}
		if !flag.Parsed() {
			flag.Parse()
		}
	})
	if p := strings.TrimSpace(envFilePath); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv("ENV_FILE")); p != "" {
		return p, true
	}
	return defaultEnvFile, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func exportEnvFile(path string) error {
	if !fileExists(path) {
		return fmt.Errorf("%w: %s", os.ErrNotExist, path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	var errs []error
	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
