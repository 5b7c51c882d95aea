package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/signpad/pad"
)

var padJSONOutput bool

var padCmd = &cobra.Command{
	Use:   "pad",
	Short: "Manage signature pads in the configured store",
}

var padRegisterCmd = &cobra.Command{
	Use:   "register [name]",
	Short: "Register a new signature pad",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeRepo, err := openPadRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeRepo()

		p, err := reg.Register(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printPad(cmd.OutOrStdout(), p)
	},
}

var padListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered signature pads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeRepo, err := openPadRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeRepo()

		pads, err := reg.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if padJSONOutput {
			return writeIndented(out, pads)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVALIDATED\tKEY")
		for _, p := range pads {
			kid := "-"
			if p.KeyVersion > 0 {
				kid = p.KeyID()
			}
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.ID, p.Name, p.Validated, kid)
		}
		return tw.Flush()
	},
}

var padShowCmd = &cobra.Command{
	Use:   "show [pad-id]",
	Short: "Show a signature pad",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeRepo, err := openPadRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeRepo()

		p, err := reg.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printPad(cmd.OutOrStdout(), p)
	},
}

var padIssueKeyCmd = &cobra.Command{
	Use:   "issue-key [pad-id]",
	Short: "Issue a key pair to an unvalidated pad and print the private JWK",
	Long: `Generates a new RSA key pair for the pad. The private JWK is printed once
and is not stored; transfer it to the device to complete pairing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeRepo, err := openPadRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeRepo()

		issued, err := reg.IssueKeyPair(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		buf, err := issued.OpenPrivateJWK()
		if err != nil {
			return err
		}
		defer buf.Destroy()
		return writeIndented(cmd.OutOrStdout(), map[string]any{
			"pad_id":      issued.PadID,
			"kid":         issued.KeyID,
			"key_version": issued.KeyVersion,
			"private_jwk": json.RawMessage(buf.Bytes()),
		})
	},
}

func openPadRegistry(cmd *cobra.Command) (*pad.Registry, func(), error) {
	repo, closeRepo, err := openRepository(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return pad.NewRegistry(pad.NewRepositoryStore(repo), pad.WithLogger(logger)), closeRepo, nil
}

func printPad(w io.Writer, p *pad.Pad) error {
	if padJSONOutput {
		return writeIndented(w, p)
	}
	fmt.Fprintf(w, "ID:           %s\n", p.ID)
	fmt.Fprintf(w, "Name:         %s\n", p.Name)
	fmt.Fprintf(w, "Validated:    %t\n", p.Validated)
	fmt.Fprintf(w, "Key version:  %d\n", p.KeyVersion)
	if p.KeyVersion > 0 {
		fmt.Fprintf(w, "Key ID:       %s\n", p.KeyID())
	}
	fmt.Fprintf(w, "Created:      %s\n", p.CreatedAt.Format(time.RFC3339))
	if p.Validated {
		fmt.Fprintf(w, "Validated at: %s\n", p.ValidatedAt.Format(time.RFC3339))
	}
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(padCmd)
	padCmd.AddCommand(padRegisterCmd, padListCmd, padShowCmd, padIssueKeyCmd)
	padCmd.PersistentFlags().BoolVar(&padJSONOutput, "json", false, "Output as JSON")
}
