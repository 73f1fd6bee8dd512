package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pendergraft/ipenforcer/pkg/client"
)

func createArtworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "artworks",
		Short: "List protected artworks",
		Long: `List the protected artworks that can be reported.

EXAMPLES:
  ipenforcer artworks
  ipenforcer artworks -o json
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := getOutput()
			if err := checkFormat(format); err != nil {
				return err
			}

			artworks, err := client.New(getServer()).ListArtworks(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list artworks: %w", err)
			}
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, artworks)
			}
			printArtworks(cmd.OutOrStdout(), artworks)
			return nil
		},
	}
}
