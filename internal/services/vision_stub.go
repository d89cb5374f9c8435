package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/foxxcyber/roomscan/internal/models"
)

// StubModelName is reported as the model of every stub extraction.
const StubModelName = "stub-vision-v1"

// StubVisionProvider returns a fixed, room-type-dependent item list. It
// never calls the network and is safe for tests and local development.
type StubVisionProvider struct {
	// Items, when set, replaces the built-in catalogue for every call.
	Items []models.CandidateItem
}

// NewStubVisionProvider returns a stub that uses the built-in catalogue.
func NewStubVisionProvider() *StubVisionProvider {
	return &StubVisionProvider{}
}

type stubItem struct {
	Label      string  `json:"label"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

var stubCatalogue = map[string][]stubItem{
	"living_room": {
		{Label: "Sofa", Category: "furniture", Confidence: 0.93},
		{Label: "Coffee Table", Category: "furniture", Confidence: 0.88},
		{Label: "Television", Category: "electronics", Confidence: 0.91},
		{Label: "Floor Lamp", Category: "lighting", Confidence: 0.74},
	},
	"kitchen": {
		{Label: "Refrigerator", Category: "appliance", Confidence: 0.95},
		{Label: "Microwave", Category: "appliance", Confidence: 0.9},
		{Label: "Stand Mixer", Category: "appliance", Confidence: 0.71},
	},
	"bedroom": {
		{Label: "Bed Frame", Category: "furniture", Confidence: 0.92},
		{Label: "Dresser", Category: "furniture", Confidence: 0.86},
		{Label: "Nightstand", Category: "furniture", Confidence: 0.8},
	},
	"office": {
		{Label: "Office Chair", Category: "furniture", Confidence: 0.9},
		{Label: "Desk", Category: "furniture", Confidence: 0.89},
		{Label: "Monitor", Category: "electronics", Confidence: 0.87},
	},
}

var stubDefault = []stubItem{
	{Label: "Storage Cabinet", Category: "furniture", Confidence: 0.7},
	{Label: "Wall Art", Category: "decor", Confidence: 0.6},
}

// ExtractItems implements VisionProvider. The response text goes through the
// same parse chain as the production backend.
func (p *StubVisionProvider) ExtractItems(ctx context.Context, images [][]byte, roomTypeHint string) (*ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, Wrap(ErrValidation, "vision extract", "no images", nil)
	}

	var items []stubItem
	if len(p.Items) > 0 {
		for _, it := range p.Items {
			si := stubItem{Label: it.Label, Confidence: it.Confidence}
			if it.Category != nil {
				si.Category = *it.Category
			}
			items = append(items, si)
		}
	} else if catalogue, ok := stubCatalogue[normalizeRoomType(roomTypeHint)]; ok {
		items = catalogue
	} else {
		items = stubDefault
	}

	encoded, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return nil, err
	}
	text := string(encoded)

	promptTokens := 85 * len(images)
	completionTokens := len(text) / 4
	return &ExtractionResult{
		Items: ParseCandidateText(text),
		Raw: RawExtraction{
			Model: StubModelName,
			Text:  text,
			Usage: &models.TokenUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		},
	}, nil
}

func normalizeRoomType(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	hint = strings.NewReplacer(" ", "_", "-", "_").Replace(hint)
	switch hint {
	case "lounge", "family_room", "den":
		return "living_room"
	case "study", "home_office":
		return "office"
	case "master_bedroom", "guest_bedroom":
		return "bedroom"
	}
	return hint
}
