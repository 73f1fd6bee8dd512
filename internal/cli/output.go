package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/pendergraft/ipenforcer/pkg/client"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// writeStructured renders v as JSON or YAML. YAML keys follow the JSON field
// names.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	return checkFormat(format)
}

func printArtworks(w io.Writer, artworks []client.Artwork) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE")
	for _, a := range artworks {
		fmt.Fprintf(tw, "%s\t%s\n", a.ID, a.Title)
	}
	tw.Flush()
}

func printSession(w io.Writer, s *client.Session) {
	snap := s.Workflow
	fmt.Fprintf(w, "Session:  %s\n", s.ID)
	fmt.Fprintf(w, "Artwork:  %s (%s)\n", s.Artwork.Title, s.Artwork.ID)
	state := snap.State
	if snap.FailedFrom != "" {
		state += " (from " + snap.FailedFrom + ")"
	}
	fmt.Fprintf(w, "State:    %s\n", state)
	if snap.Draft != nil {
		if snap.Draft.SourceURL != "" {
			fmt.Fprintf(w, "Source:   %s\n", snap.Draft.SourceURL)
		}
		if ev := snap.Draft.Evidence; ev != nil {
			fmt.Fprintf(w, "Evidence: %s (%s, %d bytes)\n", ev.Name, ev.ContentType, ev.Size)
		}
	}
	if snap.Assessment != nil {
		fmt.Fprintf(w, "Score:    %.0f%%\n", snap.Assessment.Score*100)
	}
	if s.Wallet.Connected {
		fmt.Fprintf(w, "Wallet:   %s\n", s.Wallet.Address)
	} else {
		fmt.Fprintln(w, "Wallet:   (not connected)")
	}
	if snap.Error != nil {
		fmt.Fprintf(w, "Error:    %s: %s\n", snap.Error.Kind, snap.Error.Message)
	}
	fmt.Fprintln(w, "Attestations:")
	printAttestations(w, snap.Attestations)
	if sub := snap.Submission; sub != nil {
		fmt.Fprintf(w, "Dispute:  %s\n", sub.ID)
		fmt.Fprintf(w, "Reward:   %s\n", snap.RewardRecipient)
	}
}

func printAttestations(w io.Writer, items []client.Attestation) {
	for _, a := range items {
		mark := " "
		if a.Checked {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %-16s %s\n", mark, a.Criterion, a.Label)
	}
}

func printSnapshotLine(w io.Writer, snap client.Snapshot) {
	parts := []string{fmt.Sprintf("#%d", snap.Seq), snap.State}
	if snap.Assessment != nil {
		parts = append(parts, fmt.Sprintf("score=%.2f", snap.Assessment.Score))
	}
	if snap.Highlight {
		parts = append(parts, "highlight")
	}
	if snap.Error != nil {
		parts = append(parts, "error="+snap.Error.Kind)
	}
	if snap.Recap.State != "" && snap.Recap.State != "idle" {
		parts = append(parts, "recap="+snap.Recap.State)
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}
