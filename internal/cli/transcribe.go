package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fmueller/holaamigo/internal/transcribe"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var (
		language string
		quality  string
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Long:  "Transcribe an audio file through the same pipeline the server uses and print the JSON result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audioPath := filepath.Clean(args[0])
			if _, err := os.Stat(audioPath); err != nil {
				return fmt.Errorf("audio file not found: %w", err)
			}
			data, err := os.ReadFile(audioPath)
			if err != nil {
				return fmt.Errorf("read audio file: %w", err)
			}

			svc, err := app.buildService(cmd.Context(), nil)
			if err != nil {
				return err
			}

			app.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("language", language), zap.String("quality", quality))
			stopSpinner := startSpinner(app.progressEnabled(), "Transcribing")
			result, err := svc.Transcribe(cmd.Context(), transcribe.Request{
				Audio:    data,
				Language: language,
				Quality:  quality,
			})
			stopSpinner()
			if err != nil {
				return err
			}

			if result.Text == transcribe.BlankAudioToken || result.Text == "" {
				app.log().Warn(noSpeechHint())
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}

	cmd.Flags().StringVar(&language, "language", transcribe.DefaultLanguage, "Language code passed to whisper (en|de|es|...)")
	cmd.Flags().StringVar(&quality, "quality", transcribe.DefaultQuality, "Quality label: base|medium")
	return cmd
}

func noSpeechHint() string {
	return "no speech detected; check the recording level or try --quality medium"
}
