package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foxxcyber/roomscan/internal/models"
)

const defaultVisionTimeout = 60 * time.Second

// OpenAIVisionConfig configures the chat-completions vision backend.
type OpenAIVisionConfig struct {
	APIKey  string
	BaseURL string
	// Models are tried in order; put a forced override first.
	Models  []string
	Timeout time.Duration
}

// OpenAIVisionProvider talks to an OpenAI-compatible chat completions API.
type OpenAIVisionProvider struct {
	cfg        OpenAIVisionConfig
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	unsupported map[string]bool
}

// NewOpenAIVisionProvider constructs the production vision backend.
func NewOpenAIVisionProvider(cfg OpenAIVisionConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIVisionProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultVisionTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	return &OpenAIVisionProvider{
		cfg:         cfg,
		httpClient:  httpClient,
		logger:      logger,
		unsupported: make(map[string]bool),
	}
}

// ExtractItems implements VisionProvider. An "unsupported model" answer moves
// on to the next model; any other error ends the call.
func (p *OpenAIVisionProvider) ExtractItems(ctx context.Context, images [][]byte, roomTypeHint string) (*ExtractionResult, error) {
	if len(images) == 0 {
		return nil, Wrap(ErrValidation, "vision extract", "no images", nil)
	}
	if p.cfg.APIKey == "" {
		return nil, Wrap(ErrProviderFatal, "vision extract", "api key required", nil)
	}

	prompt := buildExtractionPrompt(roomTypeHint)
	var tried []string
	for _, model := range p.cfg.Models {
		if p.isUnsupported(model) {
			continue
		}
		tried = append(tried, model)

		result, err := p.extractWithModel(ctx, model, prompt, images)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrModelUnsupported) {
			p.markUnsupported(model)
			p.logger.Warn("vision model unsupported, trying next", "model", model, "error", err)
			continue
		}
		return nil, err
	}

	return nil, Wrap(ErrProviderFatal, "vision extract",
		fmt.Sprintf("no usable model (tried %s)", strings.Join(tried, ", ")), nil)
}

func (p *OpenAIVisionProvider) isUnsupported(model string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsupported[model]
}

func (p *OpenAIVisionProvider) markUnsupported(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsupported[model] = true
}

type visionRequest struct {
	Model          string            `json:"model"`
	Messages       []visionMessage   `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type visionMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type visionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *OpenAIVisionProvider) extractWithModel(ctx context.Context, model, prompt string, images [][]byte) (*ExtractionResult, error) {
	parts := make([]contentPart, 0, len(images)+1)
	parts = append(parts, contentPart{Type: "text", Text: prompt})
	for _, img := range images {
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
				Detail: "low",
			},
		})
	}
	payload := visionRequest{
		Model:          model,
		Messages:       []visionMessage{{Role: "user", Content: parts}},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vision request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, Wrap(ErrProviderFatal, "vision request", "new request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil && !IsTransient(err) {
			return nil, fmt.Errorf("%w: vision request (model=%s): %w", ErrProviderFatal, model, err)
		}
		return nil, fmt.Errorf("vision request (model=%s): %w", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vision request (model=%s): read body: %w", model, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &ProviderStatusError{
			Model:      model,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if isModelUnsupported(resp.StatusCode, statusErr.Body) {
			return nil, fmt.Errorf("%w: %w", ErrModelUnsupported, statusErr)
		}
		if IsTransient(statusErr) {
			return nil, statusErr
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderFatal, statusErr)
	}

	var completion visionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, Wrap(ErrProviderFatal, "vision request", "decode response", err)
	}
	if completion.Error != nil {
		msg := strings.TrimSpace(completion.Error.Message)
		if isModelUnsupported(http.StatusBadRequest, msg) {
			return nil, fmt.Errorf("%w: model %s: %s", ErrModelUnsupported, model, msg)
		}
		return nil, fmt.Errorf("%w: vision request (model=%s): api error: %s", ErrProviderFatal, model, msg)
	}

	var text string
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			text = content
			break
		}
	}

	result := &ExtractionResult{
		Items: ParseCandidateText(text),
		Raw:   RawExtraction{Model: model, Text: text},
	}
	if completion.Usage != nil {
		result.Raw.Usage = &models.TokenUsage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}
	}
	return result, nil
}

var unsupportedModelSignatures = []string{
	"model_not_found",
	"does not exist",
	"not found",
	"unsupported model",
	"not supported",
	"invalid model",
	"unknown model",
	"does not support image",
}

func isModelUnsupported(status int, body string) bool {
	if status != http.StatusNotFound && status != http.StatusBadRequest {
		return false
	}
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "model") {
		return false
	}
	for _, sig := range unsupportedModelSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}
