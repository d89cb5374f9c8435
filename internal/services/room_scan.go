package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/foxxcyber/roomscan/internal/database"
	"github.com/foxxcyber/roomscan/internal/models"
)

const (
	failSessionTimeout = 5 * time.Second
	rawSnapshotLimit   = 4000
)

// ScanStore is the persistence side of the scan pipeline. It is the only
// writer of session status.
type ScanStore interface {
	UsageCounter
	CreateScanSession(ctx context.Context, req *models.CreateScanSessionRequest) (*models.ScanSession, error)
	SetScanSessionImageRefs(ctx context.Context, id uuid.UUID, refs []string) error
	CompleteScanSession(ctx context.Context, id uuid.UUID, metadata *models.ScanResultMetadata, drafts []models.CreateDraftItemRequest) ([]models.DraftItem, error)
	FailScanSession(ctx context.Context, id uuid.UUID, message string) error
	GetScanSessionSummary(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) (*models.ScanSessionSummary, error)
}

// DraftStore serves the draft review surface.
type DraftStore interface {
	ListDraftItemsBySession(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) ([]models.DraftItem, error)
	ConfirmDraftItem(ctx context.Context, id, userID uuid.UUID) (*models.ConfirmDraftResult, error)
	DismissDraftItem(ctx context.Context, id, userID uuid.UUID) (*models.DraftItem, error)
}

// RoomScanConfig carries the optional collaborators and switches of a
// RoomScanService.
type RoomScanConfig struct {
	ProviderName    string
	MatchDuplicates bool
	// Archiver is optional; nil disables archival.
	Archiver Archiver
	Logger   *slog.Logger
	Now      func() time.Time
}

// RoomScanRequest is one batch of room photos submitted by a user.
type RoomScanRequest struct {
	PropertyID uuid.UUID
	RoomID     uuid.UUID
	UserID     uuid.UUID
	Images     [][]byte
}

// RoomScanService runs the photo-to-drafts pipeline synchronously within the
// caller's request.
type RoomScanService struct {
	store        ScanStore
	drafts       DraftStore
	inventory    InventoryReader
	provider     VisionProvider
	governor     *UsageGovernor
	preprocessor *ImagePreprocessor
	matcher      *ItemMatcher
	archiver     Archiver

	providerName    string
	matchDuplicates bool
	logger          *slog.Logger
	now             func() time.Time
}

// NewRoomScanService wires the pipeline.
func NewRoomScanService(store ScanStore, drafts DraftStore, inventory InventoryReader, provider VisionProvider, governor *UsageGovernor, preprocessor *ImagePreprocessor, cfg RoomScanConfig) *RoomScanService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "unknown"
	}
	return &RoomScanService{
		store:           store,
		drafts:          drafts,
		inventory:       inventory,
		provider:        provider,
		governor:        governor,
		preprocessor:    preprocessor,
		matcher:         NewItemMatcher(inventory),
		archiver:        cfg.Archiver,
		providerName:    cfg.ProviderName,
		matchDuplicates: cfg.MatchDuplicates,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
}

// RunRoomScan validates and admits the request, then drives one session to
// a terminal state. Errors before the session exists leave no session row;
// errors after it mark the session FAILED and are returned as well.
func (s *RoomScanService) RunRoomScan(ctx context.Context, req RoomScanRequest) (*models.RoomScanResult, error) {
	if len(req.Images) == 0 {
		return nil, Wrap(ErrValidation, "room scan", "at least one image is required", nil)
	}

	room, err := s.inventory.GetRoomForProperty(ctx, req.PropertyID, req.RoomID)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			return nil, Wrap(ErrRoomNotFound, "room scan", req.RoomID.String(), nil)
		}
		return nil, Wrap(ErrPersistence, "room scan", "load room", err)
	}

	if _, err := s.governor.CheckAndReserve(ctx, req.UserID, req.PropertyID, s.now()); err != nil {
		var quotaErr *QuotaError
		if errors.As(err, &quotaErr) {
			s.logger.Warn("room scan quota denied",
				"user_id", req.UserID,
				"property_id", req.PropertyID,
				"cap", quotaErr.Cap,
				"limit", quotaErr.Limit,
				"used", quotaErr.Used,
			)
		}
		return nil, err
	}

	session, err := s.store.CreateScanSession(ctx, &models.CreateScanSessionRequest{
		PropertyID:   req.PropertyID,
		RoomID:       req.RoomID,
		UserID:       req.UserID,
		ProviderName: s.providerName,
	})
	if err != nil {
		return nil, Wrap(ErrPersistence, "room scan", "create session", err)
	}

	drafts, err := s.process(ctx, session, room, req.Images)
	if err != nil {
		s.failSession(ctx, session.ID, err)
		return nil, err
	}

	return &models.RoomScanResult{SessionID: session.ID, Drafts: drafts}, nil
}

func (s *RoomScanService) process(ctx context.Context, session *models.ScanSession, room *models.Room, images [][]byte) ([]models.DraftItem, error) {
	compressed, err := s.preprocessor.Compress(images)
	if err != nil {
		return nil, err
	}
	s.archive(ctx, session, compressed)

	hint := ""
	if room.RoomType != nil {
		hint = *room.RoomType
	}

	started := s.now()
	extraction, err := s.provider.ExtractItems(ctx, compressed, hint)
	s.logExtraction(session.ID, started, images, compressed, extraction, err)
	if err != nil {
		return nil, err
	}

	candidates := Dedupe(extraction.Items)
	if len(candidates) == 0 {
		s.logger.Info("room scan found no items",
			"session_id", session.ID,
			"model", extraction.Raw.Model,
			"raw_chars", len(extraction.Raw.Text),
		)
	}

	var pool []models.InventoryItemSummary
	if s.matchDuplicates && len(candidates) > 0 {
		pool, err = s.matcher.CandidatePool(ctx, session.PropertyID, session.RoomID)
		if err != nil {
			return nil, Wrap(ErrPersistence, "duplicate match", "load inventory", err)
		}
	}

	requests := make([]models.CreateDraftItemRequest, 0, len(candidates))
	for _, c := range candidates {
		draft := models.CreateDraftItemRequest{
			Name:       c.Label,
			DedupKey:   NormalizeLabel(c.Label),
			Category:   c.Category,
			Confidence: models.DraftConfidence{Name: c.Confidence, Category: c.CategoryConfidence},
		}
		if len(pool) > 0 {
			draft.DuplicateMatch = s.matcher.Match(c.Label, session.RoomID, pool)
		}
		requests = append(requests, draft)
	}

	metadata := &models.ScanResultMetadata{
		Model:           extraction.Raw.Model,
		TokenUsage:      extraction.Raw.Usage,
		RawTextSnapshot: truncateRunes(extraction.Raw.Text, rawSnapshotLimit),
	}
	drafts, err := s.store.CompleteScanSession(ctx, session.ID, metadata, requests)
	if err != nil {
		return nil, Wrap(ErrPersistence, "complete session", "write drafts", err)
	}

	s.logger.Info("room scan complete",
		"session_id", session.ID,
		"drafts", len(drafts),
		"duplicates_flagged", countMatched(requests),
	)
	return drafts, nil
}

// archive stores the compressed images when an archiver is configured.
// Failures are logged and never fail the scan.
func (s *RoomScanService) archive(ctx context.Context, session *models.ScanSession, images [][]byte) {
	if s.archiver == nil {
		return
	}
	refs := make([]string, 0, len(images))
	for i, img := range images {
		key := ArchiveKey(session.PropertyID, session.ID, img)
		ref, err := s.archiver.Archive(ctx, key, img, "image/jpeg")
		if err != nil {
			s.logger.Warn("room scan archival failed",
				"session_id", session.ID,
				"image_index", i,
				"error", err,
			)
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return
	}
	if err := s.store.SetScanSessionImageRefs(ctx, session.ID, refs); err != nil {
		s.logger.Warn("room scan archival refs not recorded",
			"session_id", session.ID,
			"error", err,
		)
	}
}

// failSession records err on the session. It runs on a context detached from
// the request so a cancelled request still reaches a terminal state.
func (s *RoomScanService) failSession(ctx context.Context, sessionID uuid.UUID, cause error) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failSessionTimeout)
	defer cancel()

	message := sessionErrorMessage(cause)
	if err := s.store.FailScanSession(failCtx, sessionID, message); err != nil {
		s.logger.Error("room scan could not be marked failed",
			"session_id", sessionID,
			"cause", cause,
			"error", err,
		)
		return
	}
	s.logger.Error("room scan failed",
		"session_id", sessionID,
		"code", ErrorCode(cause),
		"error", cause,
	)
}

func (s *RoomScanService) logExtraction(sessionID uuid.UUID, started time.Time, original, compressed [][]byte, extraction *ExtractionResult, err error) {
	inputBytes := totalBytes(original)
	compressedBytes := totalBytes(compressed)
	attrs := []any{
		"session_id", sessionID,
		"provider", s.providerName,
		"latency_ms", s.now().Sub(started).Milliseconds(),
		"image_count", len(original),
		"input_bytes", inputBytes,
		"compressed_bytes", compressedBytes,
		"compressed_size", humanize.Bytes(uint64(compressedBytes)),
	}
	if err != nil {
		attrs = append(attrs, "outcome", "error", "code", ErrorCode(err), "error", err)
		s.logger.Warn("room scan extraction", attrs...)
		return
	}
	attrs = append(attrs, "model", extraction.Raw.Model, "items", len(extraction.Items))
	if usage := extraction.Raw.Usage; usage != nil {
		attrs = append(attrs,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
		)
	}
	outcome := "items"
	if len(extraction.Items) == 0 {
		outcome = "empty"
	}
	attrs = append(attrs, "outcome", outcome)
	s.logger.Info("room scan extraction", attrs...)
}

// GetSession returns the poll view of a session owned by userID.
func (s *RoomScanService) GetSession(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) (*models.ScanSessionSummary, error) {
	return s.store.GetScanSessionSummary(ctx, propertyID, roomID, sessionID, userID)
}

// ListDrafts returns every draft a session produced.
func (s *RoomScanService) ListDrafts(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) ([]models.DraftItem, error) {
	return s.drafts.ListDraftItemsBySession(ctx, propertyID, roomID, sessionID, userID)
}

// ConfirmDraft turns a pending draft into an inventory item.
func (s *RoomScanService) ConfirmDraft(ctx context.Context, draftID, userID uuid.UUID) (*models.ConfirmDraftResult, error) {
	return s.drafts.ConfirmDraftItem(ctx, draftID, userID)
}

// DismissDraft closes a pending draft without creating anything.
func (s *RoomScanService) DismissDraft(ctx context.Context, draftID, userID uuid.UUID) (*models.DraftItem, error) {
	return s.drafts.DismissDraftItem(ctx, draftID, userID)
}

func totalBytes(images [][]byte) int {
	n := 0
	for _, img := range images {
		n += len(img)
	}
	return n
}

func countMatched(requests []models.CreateDraftItemRequest) int {
	n := 0
	for _, r := range requests {
		if r.DuplicateMatch != nil {
			n++
		}
	}
	return n
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
