package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.command_rate", 120.0)
	v.SetDefault("server.command_burst", 30)

	// Engine defaults
	v.SetDefault("engine.save_path", "mixlab.db")
	v.SetDefault("engine.autosave_seconds", 10)
	v.SetDefault("engine.workers", 2)

	// Log defaults
	v.SetDefault("log.json", false)
}
