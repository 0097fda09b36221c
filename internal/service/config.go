package service

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/CZERTAINLY/Runner/internal/model"
)

// EnvPrefix prefixes the environment variables overriding the configuration,
// for example RUNNER_JOB_PATH for job.path.
const EnvPrefix = "RUNNER"

// OverrideKeys are the configuration keys, which can be overridden by
// environment variables or bound command line flags.
var OverrideKeys = []string{
	"verbose",
	"job.path",
	"job.extension",
	"job.libPath",
	"engine.workers",
	"engine.queue",
	"engine.timeout",
	"server.addr",
	"store.driver",
	"store.dsn",
	"store.database",
	"batch.every",
	"batch.cron",
}

// NewViper returns viper bound to the RUNNER_ environment variables.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range OverrideKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return v, nil
}

// ApplyOverrides copies the keys set in v over cfg. The result should be
// checked by Config.Validate.
func ApplyOverrides(v *viper.Viper, cfg model.Config) (model.Config, error) {
	setBool(v, "verbose", &cfg.Verbose)
	setString(v, "job.path", &cfg.Job.Path)
	setString(v, "job.extension", &cfg.Job.Extension)
	setString(v, "job.libPath", &cfg.Job.LibPath)
	setInt(v, "engine.workers", &cfg.Engine.Workers)
	setInt(v, "engine.queue", &cfg.Engine.Queue)
	if err := setDuration(v, "engine.timeout", &cfg.Engine.Timeout); err != nil {
		return cfg, err
	}
	setString(v, "server.addr", &cfg.Server.Addr)
	setString(v, "store.driver", &cfg.Store.Driver)
	setString(v, "store.dsn", &cfg.Store.DSN)
	setString(v, "store.database", &cfg.Store.Database)
	if err := setDuration(v, "batch.every", &cfg.Batch.Every); err != nil {
		return cfg, err
	}
	setString(v, "batch.cron", &cfg.Batch.Cron)
	return cfg, nil
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *model.Duration) error {
	if !v.IsSet(key) {
		return nil
	}
	d, err := model.ParseDuration(v.GetString(key))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = model.Duration(d)
	return nil
}
