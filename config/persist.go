package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/lwp001/mixlab/errors"
)

// WriteTemplate writes the current configuration to path as TOML, so users
// can start from a populated mixlab.toml instead of an empty file.
func WriteTemplate(path string, cfg *Config) error {
	doc := map[string]any{
		"server": map[string]any{
			"port":            cfg.Server.Port,
			"allowed_origins": cfg.Server.AllowedOrigins,
			"command_rate":    cfg.Server.CommandRate,
			"command_burst":   cfg.Server.CommandBurst,
		},
		"engine": map[string]any{
			"save_path":        cfg.Engine.SavePath,
			"autosave_seconds": cfg.Engine.AutosaveSeconds,
			"workers":          cfg.Engine.Workers,
		},
		"log": map[string]any{
			"json": cfg.Log.JSON,
		},
	}

	content, err := toml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return errors.Wrapf(err, "failed to write config to %s", path)
	}

	return nil
}
