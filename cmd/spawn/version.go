package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spawn/internal/output"
)

// VersionInfo represents version information for JSON output.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	// Platform matters here: only linux builds can launch processes.
	Platform string `json:"platform"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Long:    `Display the spawn binary version, git commit, build date, and platform. spawnhelper must report the same version.`,
		Example: `  spawn version
  spawn version --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			info := VersionInfo{
				Version:  version,
				Commit:   commit,
				Date:     date,
				Platform: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
			}

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.Print("spawn %s\n", info.Version)
			out.Print("  commit:   %s\n", info.Commit)
			out.Print("  built:    %s\n", info.Date)
			out.Print("  platform: %s\n", info.Platform)

			return nil
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate a shell completion script",
		Long:  `Generate a completion script for bash, zsh, fish, or powershell and write it to stdout.`,
		Example: `  spawn completion bash > /etc/bash_completion.d/spawn
  spawn completion zsh > "${fpath[1]}/_spawn"`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return root.GenPowerShellCompletionWithDesc(w)
			}
		},
	}
}
