package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is the inventory subsystem's view of a room within a property
type Room struct {
	ID         uuid.UUID `json:"id"`
	PropertyID uuid.UUID `json:"property_id"`
	Name       string    `json:"name"`
	RoomType   *string   `json:"room_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// InventoryItemSummary is the read-only shape used for duplicate matching
type InventoryItemSummary struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Category *string    `json:"category,omitempty"`
	RoomID   *uuid.UUID `json:"room_id,omitempty"`
}
