package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/objsync/internal/config"
	"github.com/marcus/objsync/internal/output"
	"github.com/marcus/objsync/internal/suggest"
	"github.com/spf13/cobra"
)

// withKeyHint adds close matches to an unknown-key error.
func withKeyHint(err error, key string) error {
	if !errors.Is(err, config.ErrUnknownKey) {
		return err
	}
	if matches := suggest.Closest(key, config.Keys()); len(matches) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(matches, " or "))
	}
	return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.Keys(), ", "))
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage objsync configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		dir, err := configDir(cmd)
		if err != nil {
			return err
		}
		err = config.Update(dir, func(cfg *config.Config) error {
			return cfg.Set(key, val)
		})
		if err != nil {
			return withKeyHint(err, key)
		}
		if !jsonOutput(cmd) {
			output.Success(cmd.OutOrStdout(), "set %s", key)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		reveal, _ := cmd.Flags().GetBool("reveal")
		val, err := cfg.Get(args[0], reveal)
		if err != nil {
			return withKeyHint(err, args[0])
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), map[string]string{args[0]: val})
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show all config values (after environment overrides)",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		reveal, _ := cmd.Flags().GetBool("reveal")
		values := make(map[string]string)
		for _, key := range config.Keys() {
			val, err := cfg.Get(key, reveal)
			if err != nil {
				return err
			}
			values[key] = val
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), values)
		}
		for _, key := range config.Keys() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, values[key])
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	},
}

func init() {
	configGetCmd.Flags().Bool("reveal", false, "Show secret values unmasked")
	configListCmd.Flags().Bool("reveal", false, "Show secret values unmasked")

	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
