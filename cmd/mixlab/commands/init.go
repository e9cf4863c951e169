package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lwp001/mixlab/config"
	"github.com/lwp001/mixlab/errors"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a mixlab.toml populated with defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "mixlab.toml"
		if len(args) == 1 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil {
			return errors.Newf("%s already exists", path)
		}

		v := viper.New()
		config.SetDefaults(v)

		var cfg config.Config
		if err := v.Unmarshal(&cfg); err != nil {
			return errors.Wrap(err, "failed to build default config")
		}

		if err := config.WriteTemplate(path, &cfg); err != nil {
			return err
		}

		cmd.Printf("wrote %s\n", path)
		return nil
	},
}
