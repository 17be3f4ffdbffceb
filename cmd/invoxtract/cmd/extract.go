package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/invoxtract/internal/config"
	"github.com/MeKo-Tech/invoxtract/internal/document"
	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/metrics"
	"github.com/MeKo-Tech/invoxtract/internal/pipeline"
)

// openEngines is replaced in tests.
var openEngines = pipeline.OpenEngines

// createOutput opens the --output file; replaced in tests.
var createOutput = func(path string) (io.WriteCloser, error) { return os.Create(path) }

// errPagesFailed is returned after output is written when any page failed.
var errPagesFailed = errors.New("one or more pages failed")

// PageResult is the extraction result for one page of an input file.
type PageResult struct {
	File   string          `json:"file" yaml:"file"`
	Page   int             `json:"page" yaml:"page"`
	Result *invoice.Result `json:"result" yaml:"result"`
}

// extractCmd represents the extract command.
var extractCmd = &cobra.Command{
	Use:   "extract <file>...",
	Short: "Extract invoice fields from images or scanned PDFs",
	Long: `Run the extraction pipeline on one or more invoice files.

Supported formats: JPEG, PNG, GIF, BMP, TIFF, WebP and PDF (embedded page
images). Each page yields one result with the selected fields, line items,
all field candidates, per-task outcomes and, with --trace, the decision trace.

Examples:
  invoxtract extract invoice.jpg
  invoxtract extract scan.pdf --pages 1,3-4 --format yaml --output out.yaml
  invoxtract extract invoice.png --engines tesseract --detections regions.json`,
	Args: cobra.MinimumNArgs(1),
}

func init() {
	extractCmd.RunE = runExtract
	rootCmd.AddCommand(extractCmd)

	f := extractCmd.Flags()
	f.StringP("format", "f", config.FormatJSON, "output format (json, yaml)")
	f.StringP("output", "o", "", "write results to file instead of stdout")
	f.String("pages", "", "PDF page range, e.g. 1-3,5")
	f.StringSlice("engines", nil, "OCR engines to run (default: all known engines)")
	f.String("detections", "", "JSON file of precomputed region detections")
	f.String("patterns", "", "YAML file with extra field pattern families")
	f.String("metrics-file", "", "write Prometheus metrics in text format to this file")
	f.Bool("trace", false, "include the decision trace in the output")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	pageRange, _ := cmd.Flags().GetString("pages")

	opts := cfg.ToEngineOptions()
	reg, err := openEngines(cfg.Engines.Enabled, opts)
	if err != nil {
		return err
	}
	det, err := pipeline.OpenDetector(opts)
	if err != nil {
		_ = reg.Close()
		return fmt.Errorf("failed to open region detector: %w", err)
	}

	collector := metrics.New()
	p, err := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithRegistry(reg).
		WithDetector(det).
		WithMetrics(collector).
		Build()
	if err != nil {
		_ = reg.Close()
		if c, ok := det.(io.Closer); ok {
			_ = c.Close()
		}
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	slog.Info("Starting extraction", "files", len(args), "engines", p.Engines())

	var results []PageResult
	failed := 0
	for _, path := range args {
		pages, err := document.Load(path, pageRange)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		for _, page := range pages {
			res, err := p.Run(ctx, page.Image)
			if err != nil {
				return fmt.Errorf("%s page %d: %w", path, page.Number, err)
			}
			if !cfg.Output.IncludeTrace {
				res.Trace = nil
			}
			if res.Status == invoice.StatusFailed {
				failed++
			}
			slog.Info("Page processed",
				"file", path, "page", page.Number, "run_id", res.RunID,
				"status", res.Status, "fields", len(res.Fields), "confidence", res.Confidence)
			results = append(results, PageResult{File: path, Page: page.Number, Result: res})
		}
	}

	if err := writeResults(cmd.OutOrStdout(), cfg.Output, results); err != nil {
		return err
	}
	if cfg.Output.MetricsFile != "" {
		if err := collector.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errPagesFailed, failed, len(results))
	}
	return nil
}

// writeResults encodes results in the configured format to the output
// file, or to stdout when none is set.
func writeResults(stdout io.Writer, out config.OutputConfig, results []PageResult) (err error) {
	if out.File == "" {
		return encodeResults(stdout, out.Format, results)
	}
	f, err := createOutput(out.File)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()
	return encodeResults(f, out.Format, results)
}

func encodeResults(w io.Writer, format string, results []PageResult) error {
	switch format {
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}
}
