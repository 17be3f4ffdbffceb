package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/invoxtract/internal/engine"
	"github.com/MeKo-Tech/invoxtract/internal/engine/onnxocr"
	"github.com/MeKo-Tech/invoxtract/internal/models"
	"github.com/MeKo-Tech/invoxtract/internal/normalize"
	"github.com/MeKo-Tech/invoxtract/internal/onnx"
	"github.com/MeKo-Tech/invoxtract/internal/pipeline"
)

// enginesCmd reports which OCR engines and models can be used.
var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List OCR engines and model availability",
	Long: `Show the OCR engines invoxtract knows, whether each can run on this
machine, and which model files were found in the models directory.`,
	Args: cobra.NoArgs,
}

func init() {
	enginesCmd.RunE = runEngines
	rootCmd.AddCommand(enginesCmd)
}

func runEngines(cmd *cobra.Command, _ []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	dir := models.GetModelsDir(cfg.ModelsDir)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENGINE\tENABLED\tSTATUS")
	for _, id := range pipeline.KnownEngines() {
		enabled := len(cfg.Engines.Enabled) == 0
		for _, e := range cfg.Engines.Enabled {
			enabled = enabled || e == id
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\n", id, enabled, engineStatus(id, dir, cfg.Engines.UseServer, cfg.Engines.LibraryPath))
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "MODEL\tTYPE\tPRESENT")
	for _, m := range models.ListAvailableModels() {
		path := models.ResolveModelPath(dir, m.Type, m.Variant, m.Filename)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\n", m.Name, m.Type, models.ValidateModelExists(path) == nil)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "IMAGE BACKEND\t%s\n", normalize.Backend())
	return w.Flush()
}

func engineStatus(id, modelsDir string, useServer bool, libraryPath string) string {
	switch id {
	case onnxocr.ID:
		if !onnx.Available(libraryPath) {
			return "unavailable: ONNX Runtime library not found"
		}
		for _, p := range []string{
			models.GetDetectionModelPath(modelsDir, useServer),
			models.GetRecognitionModelPath(modelsDir, useServer),
		} {
			if err := models.ValidateModelExists(p); err != nil {
				return "unavailable: " + err.Error()
			}
		}
		return "ready"
	case engine.ClassicalID:
		if !engine.NewClassical(engine.ClassicalConfig{}).Available() {
			return "unavailable: built without tesseract support"
		}
		return "ready"
	default:
		return "unknown"
	}
}
