package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spawn/internal/config"
	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View and modify spawn configuration settings.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long:  `Display every configuration setting with its effective value, defaults included.`,
		Example: `  spawn config list
  spawn config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			settings := make(map[string]any, len(config.Keys()))
			for _, key := range config.Keys() {
				settings[key] = cfg.Get(key)
			}

			if out.JSON {
				return out.PrintJSON(settings)
			}

			keys := make([]string, 0, len(settings))
			for key := range settings {
				keys = append(keys, key)
			}

			sort.Strings(keys)

			for _, key := range keys {
				out.Print("%s = %v\n", key, settings[key])
			}

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Retrieve and display the current value of a single configuration key.`,
		Example: `  spawn config get launch.mode`,
		Args:    cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return config.Keys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]
			value := config.Load().Get(key)

			if value == nil {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %v\n", key, value)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration key and persist it to the config file. Known keys are
launch.mode (fork, vfork, or helper) and launch.helper_path.`,
		Example: `  spawn config set launch.mode vfork
  spawn config set launch.helper_path /usr/libexec/spawnhelper`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]

			if err := config.Load().Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "path",
		Short:   "Print the config file location",
		Long:    `Print the path spawn reads configuration from. The file need not exist.`,
		Example: `  spawn config path`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			file := config.Load().File()
			if file == "" {
				return clierrors.New(clierrors.ExitConfig, "No config file location could be resolved").
					WithHint("Set XDG_CONFIG_HOME or HOME")
			}

			if out.JSON {
				return out.PrintJSON(map[string]string{"path": file})
			}

			out.Print("%s\n", file)

			return nil
		},
	}
}
