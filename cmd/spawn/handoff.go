package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/handoff"
	"github.com/musher-dev/spawn/internal/launch"
	"github.com/musher-dev/spawn/internal/output"
	"github.com/musher-dev/spawn/internal/pathvec"
)

// handoffDocument is the editable form of a helper payload.
type handoffDocument struct {
	Program             string   `json:"program" yaml:"program" toml:"program"`
	Argv                []string `json:"argv" yaml:"argv" toml:"argv"`
	InheritEnv          bool     `json:"inherit_env" yaml:"inherit_env" toml:"inherit_env"`
	Env                 []string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Dir                 string   `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
	Path                []string `json:"path" yaml:"path" toml:"path"`
	StdFds              []int32  `json:"std_fds" yaml:"std_fds" toml:"std_fds"`
	HandoffFd           int32    `json:"handoff_fd" yaml:"handoff_fd" toml:"handoff_fd"`
	FailFd              int32    `json:"fail_fd" yaml:"fail_fd" toml:"fail_fd"`
	Mode                string   `json:"mode" yaml:"mode" toml:"mode"`
	RedirectErrorStream bool     `json:"redirect_error_stream" yaml:"redirect_error_stream" toml:"redirect_error_stream"`
	SendAlive           bool     `json:"send_alive" yaml:"send_alive" toml:"send_alive"`
}

func newHandoffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Encode and decode helper payloads",
		Long: `Work with the binary payload the launcher writes to spawnhelper.

A payload is described in YAML with the fields program, argv, inherit_env,
env, dir, path, std_fds, handoff_fd, fail_fd, mode, redirect_error_stream
and send_alive. Encoding a document and feeding it to a helper reproduces
a launch without the launcher.`,
		Example: `  spawn handoff encode --from launch.yaml --out payload.bin
  spawn handoff decode payload.bin
  spawn handoff decode --format toml payload.bin`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newHandoffEncodeCmd())
	cmd.AddCommand(newHandoffDecodeCmd())

	return cmd
}

func newHandoffEncodeCmd() *cobra.Command {
	var (
		from   string
		outArg string
		asHex  bool
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a YAML payload description",
		Long: `Read a YAML payload description and write the binary payload. Omitted
std_fds default to 0, 1, 2; an omitted path uses the current PATH search
order; inherit_env ignores env.`,
		Example: `  spawn handoff encode --from launch.yaml --out payload.bin
  spawn handoff encode --hex < launch.yaml`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readInput(cmd, from)
			if err != nil {
				return err
			}

			doc, err := parseHandoffDocument(src)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitUsage, "Invalid payload description", err)
			}

			payload, err := doc.payload()
			if err != nil {
				return clierrors.Wrap(clierrors.ExitUsage, "Invalid payload description", err)
			}

			data, err := handoff.Encode(payload)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitUsage, "Cannot encode payload", err)
			}

			if asHex {
				data = []byte(hex.Dump(data))
			}

			if outArg == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if err := os.WriteFile(outArg, data, 0o644); err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Failed to write payload", err)
			}

			output.FromContext(cmd.Context()).Success("Wrote %d bytes to %s", len(data), outArg)

			return nil
		},
	}

	cmd.Flags().StringVarP(&from, "from", "f", "", "YAML file to read (default stdin)")
	cmd.Flags().StringVarP(&outArg, "out", "o", "", "File to write (default stdout)")
	cmd.Flags().BoolVar(&asHex, "hex", false, "Write a hex dump instead of raw bytes")

	return cmd
}

func newHandoffDecodeCmd() *cobra.Command {
	var formatArg string

	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode a binary payload",
		Long:  `Read a binary payload from a file or stdin and print it as YAML, TOML, or JSON.`,
		Example: `  spawn handoff decode payload.bin
  spawn handoff decode --format json < payload.bin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			format, err := output.ParseFormat(formatArg)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitUsage, "Invalid output format", err)
			}

			if out.JSON {
				format = output.FormatJSON
			}

			file := ""
			if len(args) == 1 {
				file = args[0]
			}

			src, err := readInput(cmd, file)
			if err != nil {
				return err
			}

			payload, err := handoff.Decode(src)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Malformed payload", err)
			}

			return out.PrintAs(format, documentOf(payload))
		},
	}

	cmd.Flags().StringVar(&formatArg, "format", "yaml", "Output format: yaml, toml, json")

	return cmd
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	if file == "" || file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}

	if err != nil {
		return nil, clierrors.Wrap(clierrors.ExitGeneral, "Failed to read input", err)
	}

	return data, nil
}

func parseHandoffDocument(src []byte) (*handoffDocument, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)

	var doc handoffDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

func (d *handoffDocument) payload() (*handoff.Payload, error) {
	mode, err := launch.ParseMode(d.Mode)
	if err != nil {
		return nil, err
	}

	stdFds := [3]int32{0, 1, 2}

	switch len(d.StdFds) {
	case 0:
	case 3:
		copy(stdFds[:], d.StdFds)
	default:
		return nil, fmt.Errorf("std_fds needs 3 entries, got %d", len(d.StdFds))
	}

	var flags uint32
	if d.RedirectErrorStream {
		flags |= handoff.FlagRedirectErrorStream
	}

	if d.SendAlive {
		flags |= handoff.FlagSendAlive
	}

	env := d.Env
	if d.InheritEnv {
		env = nil
	} else if env == nil {
		env = []string{}
	}

	path := d.Path
	if path == nil {
		path = pathvec.Resolve(nil)
	}

	return &handoff.Payload{
		Header: handoff.Header{
			StdFds:    stdFds,
			HandoffFd: d.HandoffFd,
			FailFd:    d.FailFd,
			Mode:      uint32(mode),
			Flags:     flags,
		},
		Program: d.Program,
		Argv:    d.Argv,
		Env:     env,
		Dir:     d.Dir,
		Path:    path,
	}, nil
}

func documentOf(p *handoff.Payload) *handoffDocument {
	return &handoffDocument{
		Program:             p.Program,
		Argv:                p.Argv,
		InheritEnv:          p.Env == nil,
		Env:                 p.Env,
		Dir:                 p.Dir,
		Path:                p.Path,
		StdFds:              p.Header.StdFds[:],
		HandoffFd:           p.Header.HandoffFd,
		FailFd:              p.Header.FailFd,
		Mode:                launch.Mode(p.Header.Mode).String(),
		RedirectErrorStream: p.Header.RedirectErrorStream(),
		SendAlive:           p.Header.SendAlive(),
	}
}
