package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/foxxcyber/roomscan/internal/config"
	"github.com/foxxcyber/roomscan/internal/models"
	"github.com/foxxcyber/roomscan/internal/services"
)

type extractReport struct {
	Files           []string
	InputBytes      int
	CompressedBytes int
	Model           string
	Usage           *models.TokenUsage
	Raw             int
	Items           []models.CandidateItem
	Elapsed         time.Duration
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var roomType string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "extract <photo>...",
		Short: "Run preprocessing, extraction and dedupe on local photos",
		Long: "Runs the scan pipeline up to deduplication against local image files.\n" +
			"Nothing is written to the database and no quota is consumed.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if verbose {
				logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
			}

			report, err := runExtract(cmd.Context(), cfg, cliVisionProvider(cfg, logger), args, roomType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatExtractReport(report))
			return nil
		},
	}

	cmd.Flags().StringVar(&roomType, "room-type", "", "Room type hint passed to the provider (e.g. living_room)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log retry diagnostics to stderr")
	return cmd
}

func cliVisionProvider(cfg *config.Config, logger *slog.Logger) services.VisionProvider {
	var inner services.VisionProvider = services.NewStubVisionProvider()
	if cfg.VisionProvider == config.ProviderOpenAI {
		inner = services.NewOpenAIVisionProvider(services.OpenAIVisionConfig{
			APIKey:  cfg.VisionAPIKey,
			BaseURL: cfg.VisionBaseURL,
			Models:  cfg.ModelCandidates(),
			Timeout: cfg.VisionTimeout,
		}, &http.Client{Timeout: cfg.VisionTimeout}, logger)
	}
	retrier := services.NewRetrier(services.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}, services.WithRetryLogger(logger))
	return services.NewRetryingProvider(inner, retrier)
}

func runExtract(ctx context.Context, cfg *config.Config, provider services.VisionProvider, paths []string, roomType string) (*extractReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	report := &extractReport{}
	images := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		report.Files = append(report.Files, filepath.Base(path))
		report.InputBytes += len(data)
		images = append(images, data)
	}

	compressed, err := services.NewImagePreprocessor(cfg.ImageMaxWidth, cfg.ImageJPEGQuality, cfg.MaxImageBytes).Compress(images)
	if err != nil {
		return nil, err
	}
	for _, img := range compressed {
		report.CompressedBytes += len(img)
	}

	started := time.Now()
	result, err := provider.ExtractItems(ctx, compressed, roomType)
	report.Elapsed = time.Since(started)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", services.ErrorCode(err), err)
	}

	report.Model = result.Raw.Model
	report.Usage = result.Raw.Usage
	report.Raw = len(result.Items)
	report.Items = services.Dedupe(result.Items)
	return report, nil
}

func formatExtractReport(r *extractReport) string {
	rows := make([][]string, 0, len(r.Items))
	for i, item := range r.Items {
		category := "-"
		if item.Category != nil {
			category = *item.Category
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			item.Label,
			category,
			strconv.FormatFloat(item.Confidence, 'f', 2, 64),
		})
	}

	tokens := "-"
	if r.Usage != nil {
		tokens = fmt.Sprintf("%d prompt / %d completion", r.Usage.PromptTokens, r.Usage.CompletionTokens)
	}
	summary := renderKeyValues([][2]string{
		{"Photos", fmt.Sprintf("%d", len(r.Files))},
		{"Upload size", fmt.Sprintf("%s -> %s", humanize.Bytes(uint64(r.InputBytes)), humanize.Bytes(uint64(r.CompressedBytes)))},
		{"Model", r.Model},
		{"Tokens", tokens},
		{"Latency", r.Elapsed.Round(time.Millisecond).String()},
		{"Items", fmt.Sprintf("%d (%d before dedupe)", len(r.Items), r.Raw)},
	})
	if len(rows) == 0 {
		return summary + "\nNo items detected."
	}
	items := renderTable([]string{"#", "Label", "Category", "Confidence"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
	return summary + "\n" + items
}
