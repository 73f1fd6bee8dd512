package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pendergraft/ipenforcer/pkg/client"
)

func createSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect report sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := getOutput()
			if err := checkFormat(format); err != nil {
				return err
			}
			sess, err := client.New(getServer()).GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, sess)
			}
			printSession(cmd.OutOrStdout(), sess)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch <id>",
		Short: "Stream workflow snapshots of a session",
		Long: `Stream workflow snapshots of a session until it is closed or
the command is interrupted.

EXAMPLES:
  ipenforcer session watch 6f1c0a64-7a5e-4d8a-9a39-0d5f3e2b1c11
  ipenforcer session watch 6f1c0a64-7a5e-4d8a-9a39-0d5f3e2b1c11 -o json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), client.New(getServer()), args[0], cmd.OutOrStdout(), getOutput())
		},
	})

	cmd.AddCommand(createRecapCmd())

	return cmd
}

func runWatch(ctx context.Context, c *client.Client, id string, out io.Writer, format string) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	events, err := c.Events(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to watch session: %w", err)
	}
	for snap := range events {
		if format == formatText {
			printSnapshotLine(out, snap)
			continue
		}
		if err := writeStructured(out, format, snap); err != nil {
			return err
		}
	}
	return nil
}

func createRecapCmd() *cobra.Command {
	var artworkID string

	cmd := &cobra.Command{
		Use:   "recap",
		Short: "Show the plain-language recap of the legal contract",
		Long: `Open the legal contract of an artwork and print its recap.

EXAMPLES:
  ipenforcer session recap --artwork artwork-3
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := runRecap(cmd.Context(), client.New(getServer()), artworkID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVar(&artworkID, "artwork", "", "artwork id (required)")
	_ = cmd.MarkFlagRequired("artwork")

	return cmd
}

// runRecap opens a short-lived session, requests the recap and waits for it
// on the event stream.
func runRecap(ctx context.Context, c *client.Client, artworkID string) (string, error) {
	sess, err := c.OpenSession(ctx, artworkID)
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer c.CloseSession(context.Background(), sess.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := c.Events(ctx, sess.ID)
	if err != nil {
		return "", fmt.Errorf("failed to watch session: %w", err)
	}
	if _, err := c.OpenDetail(ctx, sess.ID); err != nil {
		return "", fmt.Errorf("failed to open detail view: %w", err)
	}
	if _, err := c.RequestRecap(ctx, sess.ID); err != nil {
		return "", fmt.Errorf("failed to request recap: %w", err)
	}

	for snap := range events {
		switch snap.Recap.State {
		case "ready":
			return snap.Recap.Text, nil
		case "failed":
			if e := snap.Recap.Error; e != nil {
				return "", fmt.Errorf("recap failed: %s", e.Message)
			}
			return "", errors.New("recap failed")
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", errors.New("session closed before the recap was ready")
}
