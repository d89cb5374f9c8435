package services

import (
	"encoding/json"
	"strings"

	"github.com/foxxcyber/roomscan/internal/models"
)

// defaultCandidateConfidence is used when the model omits a confidence.
const defaultCandidateConfidence = 0.5

// Rune limits matching the draft_items name and category columns.
const (
	maxLabelRunes    = 300
	maxCategoryRunes = 100
)

type rawCandidate struct {
	Label              string   `json:"label"`
	Name               string   `json:"name"`
	Category           string   `json:"category"`
	Confidence         *float64 `json:"confidence"`
	CategoryConfidence *float64 `json:"category_confidence"`
}

type rawPayload struct {
	Items json.RawMessage `json:"items"`
}

// parseStrategy tries to read a candidate list out of model text. It must
// not panic and reports false when it cannot interpret the text.
type parseStrategy func(text string) ([]rawCandidate, bool)

var parseChain = []parseStrategy{
	parseStrictObject,
	parseFencedBlock,
	parseObjectSlice,
	parseArraySlice,
}

// ParseCandidateText turns loosely structured model output into candidates.
// Strategies run in order until one succeeds; text nothing can read yields
// zero candidates.
func ParseCandidateText(text string) []models.CandidateItem {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	for _, strategy := range parseChain {
		if raw, ok := strategy(trimmed); ok {
			return toCandidates(raw)
		}
	}
	return nil
}

// parseStrictObject accepts only an object carrying an "items" list.
func parseStrictObject(text string) ([]rawCandidate, bool) {
	var payload rawPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil || len(payload.Items) == 0 {
		return nil, false
	}
	var items []rawCandidate
	if err := json.Unmarshal(payload.Items, &items); err != nil {
		return nil, false
	}
	return items, true
}

func parseFencedBlock(text string) ([]rawCandidate, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return nil, false
	}
	body := text[start+3:]
	end := strings.Index(body, "```")
	if end < 0 {
		return nil, false
	}
	body = strings.TrimSpace(body[:end])
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimSpace(body[4:])
	}
	if raw, ok := parseStrictObject(body); ok {
		return raw, true
	}
	var items []rawCandidate
	if err := json.Unmarshal([]byte(body), &items); err == nil {
		return items, true
	}
	return nil, false
}

func parseObjectSlice(text string) ([]rawCandidate, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return parseStrictObject(text[start : end+1])
}

func parseArraySlice(text string) ([]rawCandidate, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	var items []rawCandidate
	if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return nil, false
	}
	return items, true
}

func toCandidates(raw []rawCandidate) []models.CandidateItem {
	out := make([]models.CandidateItem, 0, len(raw))
	for _, r := range raw {
		label := strings.TrimSpace(r.Label)
		if label == "" {
			label = strings.TrimSpace(r.Name)
		}
		if label == "" {
			continue
		}
		label = strings.TrimSpace(truncateRunes(label, maxLabelRunes))
		item := models.CandidateItem{
			Label:      label,
			Confidence: defaultCandidateConfidence,
		}
		if r.Confidence != nil {
			item.Confidence = clampUnit(*r.Confidence)
		}
		if category := strings.TrimSpace(truncateRunes(strings.ToLower(strings.TrimSpace(r.Category)), maxCategoryRunes)); category != "" {
			item.Category = &category
		}
		if r.CategoryConfidence != nil {
			c := clampUnit(*r.CategoryConfidence)
			item.CategoryConfidence = &c
		}
		out = append(out, item)
	}
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
