package cmd

import (
	"fmt"
	"os"

	"github.com/NadimPy/virtualization-implementation/config"
	"github.com/NadimPy/virtualization-implementation/store"

	log "github.com/activeshadow/libminimega/minilog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var settings config.Settings

var rootCmd = &cobra.Command{
	Use:   "vm-provisioner",
	Short: "Multi-tenant KVM/QEMU virtual machine provisioner",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := log.INFO

		if viper.GetBool("log.verbose") {
			level = log.DEBUG
		}

		log.AddLogger("stdio", os.Stderr, level, true)

		settings = config.FromViper()

		if err := settings.EnsureDirectories(); err != nil {
			return fmt.Errorf("preparing data directories: %w", err)
		}

		if err := store.Init(store.Path(settings.DBPath)); err != nil {
			return fmt.Errorf("initializing catalog: %w", err)
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return store.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceUsage: true, // don't print help when subcommands return an error
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("log.verbose", false, "enable debug logging")

	viper.BindPFlags(rootCmd.PersistentFlags())
}
