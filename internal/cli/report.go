package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pendergraft/ipenforcer/pkg/client"
)

// criteria lists the attestation names accepted by --attest.
var criteria = []string{"similarity", "infringement", "no_authorization", "solvent", "reachable"}

// longPoll is the per-request wait used while following a session.
const longPoll = 25 * time.Second

type reportOptions struct {
	Artwork string
	URL     string
	File    string
	Wallet  string
	Attest  []string
	Yes     bool
	Timeout time.Duration
}

// confirm asks the reporter before a dispute is submitted. Tests replace it.
var confirm = promptConfirm

func createReportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report an infringing copy and raise a dispute",
		Long: `Report an unauthorized copy of a protected artwork, review the
similarity assessment, attest to the infringement criteria and submit the
dispute for arbitration.

Provide a source URL, an evidence file, or both. Evidence may be an image,
PDF, Word document or text file.

EXAMPLES:
  # Report a URL and attest to every criterion
  ipenforcer report --artwork artwork-3 --url https://example.com/copy --attest all

  # Report with an evidence file, without the confirmation prompt
  ipenforcer report --artwork artwork-3 --file copy.png \
    --attest similarity --attest infringement --wallet 0x52908400098527886E0F7030069857D2E4169EE7 --yes
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Wallet == "" {
				opts.Wallet = getWallet()
			}
			return runReport(cmd.Context(), client.New(getServer()), opts, cmd.InOrStdin(), cmd.OutOrStdout(), getOutput())
		},
	}

	cmd.Flags().StringVar(&opts.Artwork, "artwork", "", "artwork id, e.g. artwork-3 (required)")
	cmd.Flags().StringVar(&opts.URL, "url", "", "URL where the copy is published")
	cmd.Flags().StringVar(&opts.File, "file", "", "evidence file")
	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "wallet address that receives the reward (default from config)")
	cmd.Flags().StringSliceVar(&opts.Attest, "attest", nil, "criterion to attest to, repeatable; 'all' for every criterion, 'none' to uncheck all (default keeps the pre-checked ones)")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "submit without asking for confirmation")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "how long to wait for each workflow step")
	_ = cmd.MarkFlagRequired("artwork")

	return cmd
}

func runReport(ctx context.Context, c *client.Client, opts reportOptions, in io.Reader, out io.Writer, format string) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	if strings.TrimSpace(opts.URL) == "" && opts.File == "" {
		return errors.New("either --url or --file is required")
	}
	wanted, err := expandAttestations(opts.Attest)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := c.OpenSession(ctx, opts.Artwork)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer c.CloseSession(context.Background(), sess.ID)

	if opts.File != "" {
		f, err := os.Open(opts.File)
		if err != nil {
			return fmt.Errorf("failed to open evidence: %w", err)
		}
		defer f.Close()
		sess, err = c.SubmitReportWithEvidence(ctx, sess.ID, opts.URL, client.Evidence{
			Name:    filepath.Base(opts.File),
			Content: f,
		})
		if err != nil {
			return fmt.Errorf("failed to submit report: %w", err)
		}
	} else {
		sess, err = c.SubmitReport(ctx, sess.ID, opts.URL)
		if err != nil {
			return fmt.Errorf("failed to submit report: %w", err)
		}
	}

	sess, err = waitFor(ctx, c, sess.ID, client.StateReviewing, opts.Timeout)
	if err != nil {
		return err
	}

	for _, a := range sess.Workflow.Attestations {
		if wanted == nil || a.Checked == slices.Contains(wanted, a.Criterion) {
			continue
		}
		sess, err = c.ToggleAttestation(ctx, sess.ID, a.Criterion)
		if err != nil {
			return fmt.Errorf("failed to update attestation %s: %w", a.Criterion, err)
		}
	}

	if !opts.Yes {
		if format == formatText {
			printSession(out, sess)
		}
		ok, err := confirm(in, out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Dispute not submitted")
			return nil
		}
	}

	if opts.Wallet != "" {
		if sess, err = c.ConnectWallet(ctx, sess.ID, opts.Wallet); err != nil {
			return fmt.Errorf("failed to connect wallet: %w", err)
		}
	}

	res, err := c.TriggerDispute(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to submit dispute: %w", err)
	}
	if res.Outcome == client.OutcomeConnectRequested {
		return errors.New("a wallet is required to receive the reward: pass --wallet or set wallet in ipenforcer.toml")
	}

	sess, err = waitFor(ctx, c, sess.ID, client.StateSucceeded, opts.Timeout)
	if err != nil {
		return err
	}

	if format != formatText {
		return writeStructured(out, format, sess)
	}
	printSession(out, sess)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Your dispute has been submitted and will be handed to the court in the coming hours.")
	return nil
}

// waitFor follows a session until it reaches state. A failed workflow is
// returned as an error.
func waitFor(ctx context.Context, c *client.Client, id, state string, timeout time.Duration) (*client.Session, error) {
	deadline := time.Now().Add(timeout)
	for {
		wait := min(time.Until(deadline), longPoll)
		if wait < time.Second {
			wait = time.Second
		}
		sess, err := c.WaitForState(ctx, id, state, wait)
		if err != nil {
			return nil, err
		}
		switch sess.Workflow.State {
		case state:
			return sess, nil
		case client.StateFailed:
			if e := sess.Workflow.Error; e != nil {
				return sess, fmt.Errorf("%s: %s", e.Kind, e.Message)
			}
			return sess, errors.New("workflow failed")
		}
		if time.Now().After(deadline) {
			return sess, fmt.Errorf("timed out waiting for %s (state %s)", state, sess.Workflow.State)
		}
	}
}

// expandAttestations resolves --attest values. It returns nil when no value
// was given, meaning the server's pre-checked criteria are kept; "none"
// yields an empty set.
func expandAttestations(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := []string{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "all":
			return slices.Clone(criteria), nil
		case "none":
			continue
		}
		if !slices.Contains(criteria, name) {
			return nil, fmt.Errorf("unknown criterion %q (want one of %s, all or none)", name, strings.Join(criteria, ", "))
		}
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// promptConfirm reads a yes/no answer. It refuses when stdin is not a
// terminal.
func promptConfirm(in io.Reader, out io.Writer) (bool, error) {
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return false, errors.New("refusing to submit a dispute without confirmation: pass --yes")
	}
	fmt.Fprint(out, "Submit this dispute? [y/N]: ")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
