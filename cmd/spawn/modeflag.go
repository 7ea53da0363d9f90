package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/musher-dev/spawn/internal/launch"
)

// modeFlag is a pflag.Value for --mode. set distinguishes an explicit flag
// from the configured default.
type modeFlag struct {
	mode launch.Mode
	set  bool
}

var _ pflag.Value = (*modeFlag)(nil)

func (f *modeFlag) String() string {
	if !f.set {
		return ""
	}

	return f.mode.String()
}

func (f *modeFlag) Set(s string) error {
	m, err := launch.ParseMode(s)
	if err != nil {
		return err
	}

	f.mode, f.set = m, true

	return nil
}

func (f *modeFlag) Type() string { return "mode" }

func addModeFlag(cmd *cobra.Command, f *modeFlag) {
	cmd.Flags().VarP(f, "mode", "m", "Launch strategy: fork, vfork, helper (default from config)")

	_ = cmd.RegisterFlagCompletionFunc("mode", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return launch.ModeNames(), cobra.ShellCompDirectiveNoFileComp
	})
}
