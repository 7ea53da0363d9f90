//go:build !unix

package main

import (
	"runtime"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/spawn/internal/errors"
)

func newRunCmd() *cobra.Command {
	return unsupportedCmd("run [flags] -- <program> [args...]", "Launch a program and wait for it")
}

func newDoctorCmd() *cobra.Command {
	return unsupportedCmd("doctor", "Diagnose the launch setup")
}

func unsupportedCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    short + ". Only available on Unix systems.",
		Example: "  spawn " + use,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clierrors.New(clierrors.ExitGeneral, "'"+cmd.CommandPath()+"' is not supported on "+runtime.GOOS).
				WithHint("Process launching requires Linux")
		},
	}
}
