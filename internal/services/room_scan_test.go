package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/foxxcyber/roomscan/internal/database"
	"github.com/foxxcyber/roomscan/internal/models"
)

type memoryStore struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*models.ScanSession
	drafts      []models.DraftItem
	completeErr error
	refsErr     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[uuid.UUID]*models.ScanSession{}}
}

func (s *memoryStore) seedSession(userID, propertyID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.sessions[id] = &models.ScanSession{
		ID: id, UserID: userID, PropertyID: propertyID,
		Status: models.ScanStatusComplete, CreatedAt: time.Now(),
	}
}

func (s *memoryStore) only(t *testing.T) *models.ScanSession {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(s.sessions))
	}
	for _, session := range s.sessions {
		return session
	}
	return nil
}

func (s *memoryStore) CountScanSessionsByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, session := range s.sessions {
		if session.UserID == userID && !session.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) CountScanSessionsByPropertySince(ctx context.Context, propertyID uuid.UUID, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, session := range s.sessions {
		if session.PropertyID == propertyID && !session.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) CreateScanSession(ctx context.Context, req *models.CreateScanSessionRequest) (*models.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	session := &models.ScanSession{
		ID: uuid.New(), PropertyID: req.PropertyID, RoomID: req.RoomID, UserID: req.UserID,
		Status: models.ScanStatusProcessing, ProviderName: req.ProviderName,
		CreatedAt: now, UpdatedAt: now,
	}
	s.sessions[session.ID] = session
	copied := *session
	return &copied, nil
}

func (s *memoryStore) SetScanSessionImageRefs(ctx context.Context, id uuid.UUID, refs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refsErr != nil {
		return s.refsErr
	}
	s.sessions[id].ImageStorageRefs = refs
	return nil
}

func (s *memoryStore) CompleteScanSession(ctx context.Context, id uuid.UUID, metadata *models.ScanResultMetadata, drafts []models.CreateDraftItemRequest) ([]models.DraftItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	session := s.sessions[id]
	if session.Status != models.ScanStatusProcessing {
		return nil, database.ErrScanSessionNotProcessing
	}
	seen := map[string]bool{}
	created := make([]models.DraftItem, 0, len(drafts))
	for _, d := range drafts {
		if seen[d.DedupKey] {
			return nil, fmt.Errorf("duplicate dedup key %q", d.DedupKey)
		}
		seen[d.DedupKey] = true
		created = append(created, models.DraftItem{
			ID: uuid.New(), PropertyID: session.PropertyID, RoomID: session.RoomID, UserID: session.UserID,
			ScanSessionID: id, Status: models.DraftStatusDraft, Source: models.DraftSourceRoomPhotoAI,
			Name: d.Name, Category: d.Category, Confidence: d.Confidence, DuplicateMatch: d.DuplicateMatch,
		})
	}
	s.drafts = append(s.drafts, created...)
	session.Status = models.ScanStatusComplete
	session.ResultMetadata = metadata
	return created, nil
}

func (s *memoryStore) FailScanSession(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	session := s.sessions[id]
	if session.Status != models.ScanStatusProcessing {
		return database.ErrScanSessionNotProcessing
	}
	session.Status = models.ScanStatusFailed
	session.Error = &message
	return nil
}

func (s *memoryStore) GetScanSessionSummary(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) (*models.ScanSessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.PropertyID != propertyID || session.RoomID != roomID || session.UserID != userID {
		return nil, database.ErrScanSessionNotFound
	}
	count := 0
	for _, d := range s.drafts {
		if d.ScanSessionID == sessionID && d.Status == models.DraftStatusDraft {
			count++
		}
	}
	return &models.ScanSessionSummary{
		SessionID: session.ID, Status: session.Status, Provider: session.ProviderName,
		Error: session.Error, DraftCount: count,
	}, nil
}

func (s *memoryStore) ListDraftItemsBySession(ctx context.Context, propertyID, roomID, sessionID, userID uuid.UUID) ([]models.DraftItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DraftItem
	for _, d := range s.drafts {
		if d.ScanSessionID == sessionID && d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memoryStore) ConfirmDraftItem(ctx context.Context, id, userID uuid.UUID) (*models.ConfirmDraftResult, error) {
	d, err := s.transition(id, userID, models.DraftStatusConfirmed)
	if err != nil {
		return nil, err
	}
	return &models.ConfirmDraftResult{Draft: *d, InventoryItemID: uuid.New()}, nil
}

func (s *memoryStore) DismissDraftItem(ctx context.Context, id, userID uuid.UUID) (*models.DraftItem, error) {
	return s.transition(id, userID, models.DraftStatusDismissed)
}

func (s *memoryStore) transition(id, userID uuid.UUID, status models.DraftStatus) (*models.DraftItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.drafts {
		if s.drafts[i].ID != id || s.drafts[i].UserID != userID {
			continue
		}
		if s.drafts[i].Status != models.DraftStatusDraft {
			return nil, database.ErrDraftItemNotPending
		}
		s.drafts[i].Status = status
		d := s.drafts[i]
		return &d, nil
	}
	return nil, database.ErrDraftItemNotFound
}

type memoryArchiver struct {
	err  error
	keys []string
}

func (a *memoryArchiver) Archive(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	return "mem://" + key, nil
}

type scanFixture struct {
	store     *memoryStore
	inventory *stubInventory
	provider  *countingProvider
	service   *RoomScanService
	req       RoomScanRequest
}

func newScanFixture(t *testing.T, limits UsageLimits, archiver Archiver) *scanFixture {
	t.Helper()
	propertyID, roomID, userID := uuid.New(), uuid.New(), uuid.New()
	roomType := "living_room"
	store := newMemoryStore()
	inventory := &stubInventory{
		room: &models.Room{ID: roomID, PropertyID: propertyID, Name: "Lounge", RoomType: &roomType},
	}
	provider := &countingProvider{result: &ExtractionResult{Raw: RawExtraction{Model: "test-model"}}}
	service := NewRoomScanService(store, store, inventory, provider,
		NewUsageGovernor(store, limits),
		NewImagePreprocessor(640, 70, 0),
		RoomScanConfig{
			ProviderName:    "test",
			MatchDuplicates: true,
			Archiver:        archiver,
			Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		})

	images := [][]byte{
		encodeTestImage(t, 900, 600, imaging.JPEG),
		encodeTestImage(t, 600, 900, imaging.PNG),
		encodeTestImage(t, 300, 300, imaging.JPEG),
	}
	return &scanFixture{
		store: store, inventory: inventory, provider: provider, service: service,
		req: RoomScanRequest{PropertyID: propertyID, RoomID: roomID, UserID: userID, Images: images},
	}
}

func category(s string) *string { return &s }

func TestRunRoomScanEndToEnd(t *testing.T) {
	f := newScanFixture(t, UsageLimits{UserDaily: 6, PropertyDaily: 20}, nil)
	sofaID := uuid.New()
	f.inventory.roomItems = []models.InventoryItemSummary{
		{ID: sofaID, Name: "Sectional Sofa", Category: category("furniture"), RoomID: &f.req.RoomID},
	}
	f.provider.result.Items = []models.CandidateItem{
		{Label: "Sofa", Category: category("furniture"), Confidence: 0.7},
		{Label: "Office Chair", Category: category("furniture"), Confidence: 0.85},
		{Label: "sofa", Category: category("furniture"), Confidence: 0.9},
		{Label: "Sofa.", Category: category("furniture"), Confidence: 0.8},
	}

	result, err := f.service.RunRoomScan(context.Background(), f.req)
	if err != nil {
		t.Fatalf("RunRoomScan returned error: %v", err)
	}
	if len(result.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d: %+v", len(result.Drafts), result.Drafts)
	}

	var sofa, chair *models.DraftItem
	for i := range result.Drafts {
		switch NormalizeLabel(result.Drafts[i].Name) {
		case "sofa":
			sofa = &result.Drafts[i]
		case "office chair":
			chair = &result.Drafts[i]
		}
	}
	if sofa == nil || chair == nil {
		t.Fatalf("expected a sofa and an office chair draft, got %+v", result.Drafts)
	}
	if sofa.Confidence.Name != 0.9 {
		t.Fatalf("expected merged sofa to keep confidence 0.9, got %f", sofa.Confidence.Name)
	}
	if sofa.DuplicateMatch == nil || sofa.DuplicateMatch.ExistingItemID != sofaID || sofa.DuplicateMatch.Score < 0.82 {
		t.Fatalf("expected sofa to match existing item, got %+v", sofa.DuplicateMatch)
	}
	if !sofa.DuplicateMatch.SameRoom {
		t.Fatal("expected same-room match")
	}
	if chair.DuplicateMatch != nil {
		t.Fatalf("expected no duplicate for office chair, got %+v", chair.DuplicateMatch)
	}

	session := f.store.only(t)
	if session.Status != models.ScanStatusComplete {
		t.Fatalf("expected COMPLETE, got %s", session.Status)
	}
	if session.ResultMetadata == nil || session.ResultMetadata.Model != "test-model" {
		t.Fatalf("expected result metadata, got %+v", session.ResultMetadata)
	}
	if f.provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", f.provider.calls)
	}

	summary, err := f.service.GetSession(context.Background(), f.req.PropertyID, f.req.RoomID, result.SessionID, f.req.UserID)
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if summary.DraftCount != 2 {
		t.Fatalf("expected draft count 2, got %d", summary.DraftCount)
	}
	if _, err := f.service.DismissDraft(context.Background(), chair.ID, f.req.UserID); err != nil {
		t.Fatalf("DismissDraft returned error: %v", err)
	}
	summary, _ = f.service.GetSession(context.Background(), f.req.PropertyID, f.req.RoomID, result.SessionID, f.req.UserID)
	if summary.DraftCount != 1 {
		t.Fatalf("expected live draft count 1 after dismiss, got %d", summary.DraftCount)
	}
}

func TestRunRoomScanQuotaRejectsBeforeSession(t *testing.T) {
	f := newScanFixture(t, UsageLimits{UserDaily: 2, PropertyDaily: 20}, nil)
	f.store.seedSession(f.req.UserID, uuid.New())
	f.store.seedSession(f.req.UserID, uuid.New())

	_, err := f.service.RunRoomScan(context.Background(), f.req)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider must not be called, got %d calls", f.provider.calls)
	}
	if len(f.store.sessions) != 2 {
		t.Fatalf("expected no new session, got %d sessions", len(f.store.sessions))
	}
}

func TestRunRoomScanRejectsBeforeSession(t *testing.T) {
	f := newScanFixture(t, UsageLimits{}, nil)
	f.inventory.roomErr = database.ErrRoomNotFound
	if _, err := f.service.RunRoomScan(context.Background(), f.req); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}

	f.inventory.roomErr = nil
	f.req.Images = nil
	if _, err := f.service.RunRoomScan(context.Background(), f.req); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.store.sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(f.store.sessions))
	}
}

func TestRunRoomScanPersistenceFailureMarksFailed(t *testing.T) {
	f := newScanFixture(t, UsageLimits{}, nil)
	f.provider.result.Items = []models.CandidateItem{{Label: "Lamp", Confidence: 0.6}}
	f.store.completeErr = errors.New("tx aborted")

	_, err := f.service.RunRoomScan(context.Background(), f.req)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	session := f.store.only(t)
	if session.Status != models.ScanStatusFailed {
		t.Fatalf("expected FAILED, got %s", session.Status)
	}
	if session.Error == nil || !strings.HasPrefix(*session.Error, "persistence_error:") {
		t.Fatalf("unexpected session error %v", session.Error)
	}
	if len(f.store.drafts) != 0 {
		t.Fatalf("expected no drafts, got %d", len(f.store.drafts))
	}
}

func TestRunRoomScanProviderFailureMarksFailed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer upstream.Close()

	f := newScanFixture(t, UsageLimits{}, nil)
	provider := NewRetryingProvider(
		NewOpenAIVisionProvider(OpenAIVisionConfig{APIKey: "bad-key", BaseURL: upstream.URL, Models: []string{"m"}}, upstream.Client(), nil),
		NewRetrier(RetryPolicy{MaxAttempts: 3}, WithSleeper(func(time.Duration) {})),
	)
	service := NewRoomScanService(f.store, f.store, f.inventory, provider,
		NewUsageGovernor(f.store, UsageLimits{}),
		NewImagePreprocessor(640, 70, 0),
		RoomScanConfig{ProviderName: "openai", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	_, err := service.RunRoomScan(context.Background(), f.req)
	if !errors.Is(err, ErrProviderFatal) || ErrorCode(err) != "provider_error" {
		t.Fatalf("expected provider_error, got %s: %v", ErrorCode(err), err)
	}
	session := f.store.only(t)
	if session.Status != models.ScanStatusFailed || session.Error == nil || !strings.HasPrefix(*session.Error, "provider_error:") {
		t.Fatalf("unexpected terminal state %s %v", session.Status, session.Error)
	}
}

func TestRunRoomScanUnreadableImageMarksFailed(t *testing.T) {
	f := newScanFixture(t, UsageLimits{}, nil)
	f.req.Images = append(f.req.Images, []byte("definitely not a jpeg"))

	_, err := f.service.RunRoomScan(context.Background(), f.req)
	if !errors.Is(err, ErrPreprocess) {
		t.Fatalf("expected preprocess error, got %v", err)
	}
	if f.provider.calls != 0 {
		t.Fatal("provider must not be called for unreadable input")
	}
	if session := f.store.only(t); session.Status != models.ScanStatusFailed {
		t.Fatalf("expected FAILED, got %s", session.Status)
	}
}

func TestRunRoomScanZeroItemsCompletes(t *testing.T) {
	f := newScanFixture(t, UsageLimits{}, nil)

	result, err := f.service.RunRoomScan(context.Background(), f.req)
	if err != nil {
		t.Fatalf("RunRoomScan returned error: %v", err)
	}
	if len(result.Drafts) != 0 {
		t.Fatalf("expected no drafts, got %d", len(result.Drafts))
	}
	if session := f.store.only(t); session.Status != models.ScanStatusComplete {
		t.Fatalf("expected COMPLETE, got %s", session.Status)
	}
	if f.inventory.listCalled != 0 {
		t.Fatal("inventory should not be loaded when there is nothing to match")
	}
}

func TestRunRoomScanArchival(t *testing.T) {
	archiver := &memoryArchiver{}
	f := newScanFixture(t, UsageLimits{}, archiver)
	if _, err := f.service.RunRoomScan(context.Background(), f.req); err != nil {
		t.Fatalf("RunRoomScan returned error: %v", err)
	}
	session := f.store.only(t)
	if len(session.ImageStorageRefs) != 3 || len(archiver.keys) != 3 {
		t.Fatalf("expected 3 archived images, got refs=%v keys=%v", session.ImageStorageRefs, archiver.keys)
	}

	failing := &memoryArchiver{err: Wrap(ErrArchival, "archive image", "bucket", errors.New("access denied"))}
	f = newScanFixture(t, UsageLimits{}, failing)
	if _, err := f.service.RunRoomScan(context.Background(), f.req); err != nil {
		t.Fatalf("archival failure must not fail the scan: %v", err)
	}
	if session := f.store.only(t); session.Status != models.ScanStatusComplete || len(session.ImageStorageRefs) != 0 {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestRunRoomScanCancelledRequestStillTerminates(t *testing.T) {
	f := newScanFixture(t, UsageLimits{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.provider.err = context.Canceled
	cancel()

	if _, err := f.service.RunRoomScan(ctx, f.req); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if session := f.store.only(t); session.Status != models.ScanStatusFailed {
		t.Fatalf("expected FAILED after cancellation, got %s", session.Status)
	}
}

func TestRunRoomScanSkipsMatchingWhenDisabled(t *testing.T) {
	f := newScanFixture(t, UsageLimits{}, nil)
	f.service.matchDuplicates = false
	f.inventory.roomItems = []models.InventoryItemSummary{{ID: uuid.New(), Name: "Sofa", RoomID: &f.req.RoomID}}
	f.provider.result.Items = []models.CandidateItem{{Label: "Sofa", Confidence: 0.9}}

	result, err := f.service.RunRoomScan(context.Background(), f.req)
	if err != nil {
		t.Fatalf("RunRoomScan returned error: %v", err)
	}
	if len(result.Drafts) != 1 || result.Drafts[0].DuplicateMatch != nil {
		t.Fatalf("expected an unmatched draft, got %+v", result.Drafts)
	}
}
