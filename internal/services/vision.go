package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foxxcyber/roomscan/internal/models"
)

// RawExtraction is the provider-side record of one extraction call.
type RawExtraction struct {
	Model string
	Usage *models.TokenUsage
	Text  string
}

// ExtractionResult is what a provider returns for a batch of room photos.
type ExtractionResult struct {
	Items []models.CandidateItem
	Raw   RawExtraction
}

// VisionProvider proposes item labels from one or more room photos.
type VisionProvider interface {
	ExtractItems(ctx context.Context, images [][]byte, roomTypeHint string) (*ExtractionResult, error)
}

// ProviderStatusError is a non-2xx answer from a provider's HTTP API.
type ProviderStatusError struct {
	Model      string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *ProviderStatusError) Error() string {
	return fmt.Sprintf("vision request (model=%s): http %d: %s", e.Model, e.StatusCode, summarizeSnippet(e.Body))
}

// RetryingProvider drives a VisionProvider through a Retrier.
type RetryingProvider struct {
	inner   VisionProvider
	retrier *Retrier
}

// NewRetryingProvider wraps inner so every call runs under retrier.
func NewRetryingProvider(inner VisionProvider, retrier *Retrier) *RetryingProvider {
	return &RetryingProvider{inner: inner, retrier: retrier}
}

// ExtractItems implements VisionProvider.
func (p *RetryingProvider) ExtractItems(ctx context.Context, images [][]byte, roomTypeHint string) (*ExtractionResult, error) {
	var result *ExtractionResult
	err := p.retrier.Do(ctx, "vision extract", func(ctx context.Context) error {
		res, err := p.inner.ExtractItems(ctx, images, roomTypeHint)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

const extractionPrompt = `You are cataloguing household contents for a home inventory.
Look at the room photo(s) and list each distinct physical item worth recording
(furniture, appliances, electronics, decor, valuables). Photos may show the same
object from several angles; list it once. Do not list walls, floors, windows or people.
%sRespond with JSON only, shaped exactly like:
{"items":[{"label":"short item name","category":"furniture|appliance|electronics|decor|kitchenware|lighting|textile|other","confidence":0.0}]}
confidence is your certainty from 0 to 1 that the item is present.`

func buildExtractionPrompt(roomTypeHint string) string {
	hint := ""
	if roomTypeHint = strings.TrimSpace(roomTypeHint); roomTypeHint != "" {
		hint = fmt.Sprintf("The photos were taken in a %s.\n", strings.ReplaceAll(roomTypeHint, "_", " "))
	}
	return fmt.Sprintf(extractionPrompt, hint)
}

func summarizeSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
