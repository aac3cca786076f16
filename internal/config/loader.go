package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// PGBACKREST_REPO_AZURE_ACCOUNT.
const EnvPrefix = "PGBACKREST"

// Load reads configuration with the precedence: environment variables,
// then the config file, then built-in defaults.
//
// When path is empty, a pgbackrest.yaml in the working directory or in
// the user config directory is used if present; a missing file is not an
// error. An explicit path that cannot be read is.
func Load(ctx context.Context, path string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pgbackrest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pgbackrest")

		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every known key. Registration matters beyond the
// values themselves: AutomaticEnv only resolves keys viper knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("repo.type", "azure")

	v.SetDefault("repo.azure.account", "")
	v.SetDefault("repo.azure.container", "")
	v.SetDefault("repo.azure.key", "")
	v.SetDefault("repo.azure.key_type", "shared")
	v.SetDefault("repo.azure.endpoint", "")
	v.SetDefault("repo.azure.uri_style", "host")
	v.SetDefault("repo.azure.port", 0)
	v.SetDefault("repo.azure.timeout", "60s")
	v.SetDefault("repo.azure.block_size", 0)
	v.SetDefault("repo.azure.rate_limit", 0)
	v.SetDefault("repo.azure.tls_skip_verify", false)
	v.SetDefault("repo.azure.ca_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")
}

// decode maps raw settings onto the Config struct. Durations are
// accepted as strings ("60s"), and environment values decode weakly
// since they always arrive as strings.
func decode(settings map[string]any) (*Config, error) {
	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}
