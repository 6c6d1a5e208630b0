package cli

import (
	"fmt"

	"github.com/fmueller/holaamigo/internal/whisper"
	"github.com/spf13/cobra"
)

func newSetupCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech model assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := app.prepareModels(cmd.Context(), true)
			if err != nil {
				return err
			}

			for _, q := range whisper.Qualities {
				m, ok := models[q]
				if !ok {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Model %s (%s) ready at %s\n", m.Name, q, m.Path)
			}
			return nil
		},
	}
}
