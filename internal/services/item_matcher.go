package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/foxxcyber/roomscan/internal/models"
)

const (
	defaultMatchThreshold   = 0.82
	defaultSubstringFloor   = 0.92
	defaultSubstringMinLen  = 6
	defaultSameRoomBonus    = 0.02
	defaultRoomPoolLimit    = 250
	defaultPropertyPoolSize = 400
)

// InventoryReader is the read side of the inventory subsystem.
type InventoryReader interface {
	GetRoomForProperty(ctx context.Context, propertyID, roomID uuid.UUID) (*models.Room, error)
	ListRoomInventorySummaries(ctx context.Context, propertyID, roomID uuid.UUID, limit int) ([]models.InventoryItemSummary, error)
	ListRecentPropertyInventorySummaries(ctx context.Context, propertyID uuid.UUID, limit int) ([]models.InventoryItemSummary, error)
}

// ItemMatcher flags candidates that probably duplicate existing inventory
type ItemMatcher struct {
	inventory InventoryReader

	Threshold        float64
	SubstringFloor   float64
	SubstringMinLen  int
	SameRoomBonus    float64
	RoomPoolLimit    int
	PropertyPoolSize int
}

// NewItemMatcher creates a new item matcher
func NewItemMatcher(inventory InventoryReader) *ItemMatcher {
	return &ItemMatcher{
		inventory:        inventory,
		Threshold:        defaultMatchThreshold,
		SubstringFloor:   defaultSubstringFloor,
		SubstringMinLen:  defaultSubstringMinLen,
		SameRoomBonus:    defaultSameRoomBonus,
		RoomPoolLimit:    defaultRoomPoolLimit,
		PropertyPoolSize: defaultPropertyPoolSize,
	}
}

// CandidatePool loads the comparison set for a scan: the room's items first,
// then a bounded recent slice of the property, without repeats.
func (m *ItemMatcher) CandidatePool(ctx context.Context, propertyID, roomID uuid.UUID) ([]models.InventoryItemSummary, error) {
	roomItems, err := m.inventory.ListRoomInventorySummaries(ctx, propertyID, roomID, m.RoomPoolLimit)
	if err != nil {
		return nil, err
	}
	propertyItems, err := m.inventory.ListRecentPropertyInventorySummaries(ctx, propertyID, m.PropertyPoolSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(roomItems)+len(propertyItems))
	pool := make([]models.InventoryItemSummary, 0, len(roomItems)+len(propertyItems))
	for _, group := range [][]models.InventoryItemSummary{roomItems, propertyItems} {
		for _, item := range group {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			pool = append(pool, item)
		}
	}
	return pool, nil
}

// Match scores label against every candidate and returns the best one at or
// above the threshold, or nil. An exact tie goes to an item in the scanned
// room, then to the earlier candidate.
func (m *ItemMatcher) Match(label string, roomID uuid.UUID, candidates []models.InventoryItemSummary) *models.DuplicateMatch {
	normalized := NormalizeLabel(label)
	if normalized == "" {
		return nil
	}

	var best *models.DuplicateMatch
	for _, c := range candidates {
		score := m.Similarity(normalized, NormalizeLabel(c.Name))
		sameRoom := c.RoomID != nil && *c.RoomID == roomID
		if sameRoom {
			score += m.SameRoomBonus
			if score > 1 {
				score = 1
			}
		}
		if score < m.Threshold {
			continue
		}
		if best == nil || score > best.Score || (score == best.Score && sameRoom && !best.SameRoom) {
			best = &models.DuplicateMatch{ExistingItemID: c.ID, Score: score, SameRoom: sameRoom}
		}
	}
	return best
}

// Similarity scores two normalized labels: token-set Jaccard, raised to the
// substring floor when one label appears inside the other and the
// containing label is long enough.
func (m *ItemMatcher) Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	score := jaccard(strings.Fields(a), strings.Fields(b))
	if containsLabel(a, b, m.SubstringMinLen) || containsLabel(b, a, m.SubstringMinLen) {
		if score < m.SubstringFloor {
			score = m.SubstringFloor
		}
	}
	return score
}

func containsLabel(outer, inner string, minLen int) bool {
	if utf8.RuneCountInString(outer) < minLen || len(inner) > len(outer) {
		return false
	}
	return strings.Contains(outer, inner)
}

func jaccard(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// GetMatchConfidenceLevel returns a human-readable confidence level
func GetMatchConfidenceLevel(score float64) string {
	switch {
	case score >= 0.92:
		return "high"
	case score >= 0.82:
		return "medium"
	case score >= 0.5:
		return "low"
	default:
		return "none"
	}
}
