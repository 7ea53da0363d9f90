package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/spawn/internal/config"
	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/output"
	"github.com/musher-dev/spawn/internal/transcript"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions recorded with 'spawn run --record'",
		Long:  `List, replay, and prune program output recorded by 'spawn run --record'.`,
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsPruneCmd())

	return cmd
}

func sessionsDir(cfg *config.Config) (string, error) {
	dir, err := cfg.SessionsDir()
	if err != nil {
		return "", clierrors.Wrap(clierrors.ExitConfig, "Cannot resolve the sessions directory", err)
	}

	return dir, nil
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Long:  `List recorded sessions, newest first, with the program, launch mode, and exit code of each.`,
		Example: `  spawn sessions list
  spawn sessions list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			dir, err := sessionsDir(config.Load())
			if err != nil {
				return err
			}

			sessions, err := transcript.ListSessions(dir)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Failed to list sessions", err)
			}

			if out.JSON {
				if sessions == nil {
					sessions = []transcript.Session{}
				}

				return out.PrintJSON(sessions)
			}

			if len(sessions) == 0 {
				out.Muted("No recorded sessions.")
				return nil
			}

			for _, s := range sessions {
				out.Print("%s  %s  %-6s  %-7s  %s\n",
					s.SessionID,
					s.StartedAt.Local().Format(time.DateTime),
					s.Mode,
					sessionStatus(&s),
					strings.Join(s.Argv, " "),
				)
			}

			return nil
		},
	}
}

func sessionStatus(s *transcript.Session) string {
	switch {
	case s.Open():
		return "open"
	case s.ExitCode == nil:
		return "no-exec"
	default:
		return fmt.Sprintf("exit=%d", *s.ExitCode)
	}
}

func newSessionsShowCmd() *cobra.Command {
	var (
		raw    bool
		stream string
		search string
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the output of a recorded session",
		Long: `Print a recorded session's output with terminal escape sequences removed.
Use --raw to replay the exact bytes the program wrote.`,
		Example: `  spawn sessions show 0b6f0c55-2d0e-4c39-a3a4-3f2f0c1d9e71
  spawn sessions show --stream stderr <session-id>
  spawn sessions show --raw <session-id> > output.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			dir, err := sessionsDir(config.Load())
			if err != nil {
				return err
			}

			events, err := transcript.ReadEvents(dir, args[0])
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, fmt.Sprintf("Cannot read session %s", args[0]), err).
					WithHint("Run 'spawn sessions list' to see recorded sessions")
			}

			for i := range events {
				ev := &events[i]
				if stream != "" && ev.Stream != stream {
					continue
				}

				if raw {
					data, err := ev.Raw()
					if err != nil {
						return clierrors.Wrap(clierrors.ExitGeneral, "Corrupt session event", err)
					}

					if _, err := cmd.OutOrStdout().Write(data); err != nil {
						return err
					}

					continue
				}

				if search != "" && !strings.Contains(strings.ToLower(ev.Text), strings.ToLower(search)) {
					continue
				}

				out.Print("%s", ev.Text)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Write the recorded bytes unmodified")
	cmd.Flags().StringVar(&stream, "stream", "", "Only show one stream: stdout, stderr, or pty")
	cmd.Flags().StringVar(&search, "search", "", "Only show chunks containing this text")

	return cmd
}

func newSessionsPruneCmd() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions older than the retention window",
		Long:  `Delete recorded sessions that ended before the retention window (sessions.retention, 720h by default).`,
		Example: `  spawn sessions prune
  spawn sessions prune --older-than 168h`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			window, err := cfg.SessionsRetention()
			if err != nil {
				return clierrors.Wrap(clierrors.ExitConfig, "Invalid sessions.retention", err)
			}

			if olderThan != "" {
				d, err := time.ParseDuration(olderThan)
				if err != nil || d < 0 {
					return clierrors.New(clierrors.ExitUsage, fmt.Sprintf("Invalid --older-than value: %s", olderThan)).
						WithHint("Use a Go duration such as 168h or 30m")
				}

				window = d
			}

			dir, err := sessionsDir(cfg)
			if err != nil {
				return err
			}

			removed, err := transcript.PruneOlderThan(dir, time.Now().Add(-window))
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Failed to prune sessions", err)
			}

			out.Success("Removed %d session(s)", removed)

			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "Override the retention window (example: 168h)")

	return cmd
}
