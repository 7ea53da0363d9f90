//go:build unix

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spawn/internal/config"
	"github.com/musher-dev/spawn/internal/doctor"
	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/output"
)

type doctorReport struct {
	Results  []doctor.Result `json:"results"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Warnings int             `json:"warnings"`
}

func newDoctorCmd() *cobra.Command {
	var (
		helperPath string
		smoke      string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the launch setup",
		Long: `Run diagnostic checks against this spawn installation.

Checks performed:
  - spawnhelper exists and is executable
  - spawnhelper was built from the same version as spawn
  - the PATH search order spawn will use
  - a smoke launch in each of the fork, vfork, and helper modes
  - the config file is readable`,
		Example: `  spawn doctor
  spawn doctor --helper ./bin/spawnhelper
  spawn doctor --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)
			cfg := config.Load()

			runner := doctor.New(doctor.Options{
				Launcher:     newLauncher(ctx, cfg, helperPath),
				ConfigFile:   cfg.File(),
				SmokeProgram: smoke,
			})

			if out.JSON {
				results := runner.Run(ctx, nil)
				passed, failed, warnings := doctor.Summary(results)

				if err := out.PrintJSON(doctorReport{
					Results:  results,
					Passed:   passed,
					Failed:   failed,
					Warnings: warnings,
				}); err != nil {
					return err
				}

				if failed > 0 {
					return &exitError{code: clierrors.ExitGeneral}
				}

				return nil
			}

			out.Println("spawn doctor")
			out.Println("============")
			out.Println()

			results := runner.Run(ctx, spinnerProgress(out))

			out.Println()
			doctor.RenderResults(results, out.Print, out.Success, out.Warning, out.Failure, out.Muted)

			passed, failed, warnings := doctor.Summary(results)

			out.Println()
			out.Print("%d passed", passed)

			if failed > 0 {
				out.Print(", %d failed", failed)
			}

			if warnings > 0 {
				out.Print(", %d warning(s)", warnings)
			}

			out.Println()

			if failed > 0 {
				return clierrors.New(clierrors.ExitGeneral, fmt.Sprintf("%d check(s) failed", failed)).
					WithHint("Fix the failed checks above and run 'spawn doctor' again")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&helperPath, "helper", "", "Path to spawnhelper (overrides launch.helper_path)")
	cmd.Flags().StringVar(&smoke, "smoke", "", "Program to launch in each mode (default \"true\")")

	return cmd
}

// spinnerProgress shows one spinner per running check.
func spinnerProgress(out *output.Writer) doctor.Progress {
	return func(name string) func(doctor.Result) {
		sp := out.Spinner(name)
		sp.Start()

		return func(r doctor.Result) {
			switch r.Status {
			case doctor.StatusPass:
				sp.StopWithSuccess("")
			case doctor.StatusWarn:
				sp.StopWithWarning("")
			default:
				sp.StopWithFailure("")
			}
		}
	}
}
