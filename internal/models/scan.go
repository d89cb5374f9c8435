package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanStatus represents the lifecycle state of a room scan session
type ScanStatus string

const (
	ScanStatusProcessing ScanStatus = "PROCESSING"
	ScanStatusComplete   ScanStatus = "COMPLETE"
	ScanStatusFailed     ScanStatus = "FAILED"
)

// DraftStatus represents the review state of a draft item
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "DRAFT"
	DraftStatusConfirmed DraftStatus = "CONFIRMED"
	DraftStatusDismissed DraftStatus = "DISMISSED"
)

// DraftSourceRoomPhotoAI marks drafts produced by the room photo pipeline
const DraftSourceRoomPhotoAI = "ROOM_PHOTO_AI"

// TokenUsage is the token accounting reported by the vision provider
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ScanResultMetadata is recorded on a session when it completes
type ScanResultMetadata struct {
	Model           string      `json:"model"`
	TokenUsage      *TokenUsage `json:"token_usage,omitempty"`
	RawTextSnapshot string      `json:"raw_text_snapshot,omitempty"`
}

// ScanSession is one run of the room photo pipeline
type ScanSession struct {
	ID               uuid.UUID           `json:"id"`
	PropertyID       uuid.UUID           `json:"property_id"`
	RoomID           uuid.UUID           `json:"room_id"`
	UserID           uuid.UUID           `json:"user_id"`
	Status           ScanStatus          `json:"status"`
	ProviderName     string              `json:"provider_name"`
	ImageStorageRefs []string            `json:"image_storage_refs,omitempty"`
	ResultMetadata   *ScanResultMetadata `json:"result_metadata,omitempty"`
	Error            *string             `json:"error,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// ScanSessionSummary is the read model served to polling clients
type ScanSessionSummary struct {
	SessionID  uuid.UUID  `json:"session_id"`
	Status     ScanStatus `json:"status"`
	Provider   string     `json:"provider"`
	Error      *string    `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DraftCount int        `json:"draft_count"`
}

// DraftConfidence holds the provider's confidence in the name and category
type DraftConfidence struct {
	Name     float64  `json:"name"`
	Category *float64 `json:"category,omitempty"`
}

// DuplicateMatch is a weak reference to an existing inventory item
type DuplicateMatch struct {
	ExistingItemID uuid.UUID `json:"existing_item_id"`
	Score          float64   `json:"score"`
	SameRoom       bool      `json:"same_room"`
}

// DraftItem is a proposed inventory entry awaiting review
type DraftItem struct {
	ID             uuid.UUID       `json:"id"`
	PropertyID     uuid.UUID       `json:"property_id"`
	RoomID         uuid.UUID       `json:"room_id"`
	UserID         uuid.UUID       `json:"user_id"`
	ScanSessionID  uuid.UUID       `json:"scan_session_id"`
	Status         DraftStatus     `json:"status"`
	Source         string          `json:"source"`
	Name           string          `json:"name"`
	Category       *string         `json:"category,omitempty"`
	Confidence     DraftConfidence `json:"confidence"`
	DuplicateMatch *DuplicateMatch `json:"duplicate_match,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CandidateItem is an in-memory label proposed by the vision provider
type CandidateItem struct {
	Label              string
	Category           *string
	Confidence         float64
	CategoryConfidence *float64
}

// CreateScanSessionRequest is used when a scan starts
type CreateScanSessionRequest struct {
	PropertyID   uuid.UUID
	RoomID       uuid.UUID
	UserID       uuid.UUID
	ProviderName string
}

// CreateDraftItemRequest is one draft written at session completion
type CreateDraftItemRequest struct {
	Name           string
	DedupKey       string
	Category       *string
	Confidence     DraftConfidence
	DuplicateMatch *DuplicateMatch
}

// RoomScanResult is returned to the caller of a completed scan
type RoomScanResult struct {
	SessionID uuid.UUID   `json:"session_id"`
	Drafts    []DraftItem `json:"drafts"`
}

// ConfirmDraftResult reports the inventory item created from a draft
type ConfirmDraftResult struct {
	Draft           DraftItem `json:"draft"`
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
}
