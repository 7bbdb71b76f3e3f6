package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/auth"
	"github.com/sungwon/newsletter/internal/idempotency"
)

type fakeIdemStore struct {
	tryCalls  int
	saveCalls int
	action    *idempotency.NextAction
	tryErr    error
	saved     *idempotency.StoredResponse
}

func (f *fakeIdemStore) TryProcessing(_ context.Context, _ uuid.UUID, _ idempotency.Key) (*idempotency.NextAction, error) {
	f.tryCalls++
	if f.tryErr != nil {
		return nil, f.tryErr
	}
	return f.action, nil
}

func (f *fakeIdemStore) SaveResponse(_ context.Context, _ pgx.Tx, _ uuid.UUID, _ idempotency.Key, resp *idempotency.StoredResponse) error {
	f.saveCalls++
	f.saved = resp
	return nil
}

type fakeIssueCreator struct {
	calls   int
	issueID uuid.UUID
	count   int64
}

func (f *fakeIssueCreator) CreateWithFanOut(_ context.Context, _ pgx.Tx, _, _, _ string) (uuid.UUID, int64, error) {
	f.calls++
	return f.issueID, f.count, nil
}

// servePublish runs the handler behind the real auth middleware. A Nil
// userID leaves the request unauthenticated.
func servePublish(t *testing.T, handler http.HandlerFunc, body PublishRequest, userID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletters", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	if userID == uuid.Nil {
		handler.ServeHTTP(rec, req)
		return rec
	}

	req.Header.Set("Authorization", "Bearer test-key")
	chain := auth.BearerAuth(func(context.Context, string) (uuid.UUID, error) {
		return userID, nil
	})(handler)
	chain.ServeHTTP(rec, req)
	return rec
}

func validBody() PublishRequest {
	return PublishRequest{
		Title:          "Issue #1",
		HTMLContent:    "<p>hello</p>",
		TextContent:    "hello",
		IdempotencyKey: uuid.New().String(),
	}
}

func TestPublish_RejectsEmptyTitle(t *testing.T) {
	store := &fakeIdemStore{}
	creator := &fakeIssueCreator{}
	handler := PublishNewsletterHandler(store, creator, zerolog.Nop())

	body := validBody()
	body.Title = ""
	rec := servePublish(t, handler, body, uuid.New())

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["field"] != "title" {
		t.Errorf("expected field error on title, got %v", resp)
	}
	if store.tryCalls != 0 || creator.calls != 0 {
		t.Error("validation error must not touch storage")
	}
}

func TestPublish_RejectsEmptyContent(t *testing.T) {
	store := &fakeIdemStore{}
	handler := PublishNewsletterHandler(store, &fakeIssueCreator{}, zerolog.Nop())

	body := validBody()
	body.HTMLContent = ""
	body.TextContent = ""
	rec := servePublish(t, handler, body, uuid.New())

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if store.tryCalls != 0 {
		t.Error("validation error must not touch storage")
	}
}

func TestPublish_RejectsInvalidIdempotencyKey(t *testing.T) {
	store := &fakeIdemStore{}
	creator := &fakeIssueCreator{}
	handler := PublishNewsletterHandler(store, creator, zerolog.Nop())

	body := validBody()
	body.IdempotencyKey = "not-a-uuid"
	rec := servePublish(t, handler, body, uuid.New())

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["field"] != "idempotency_key" {
		t.Errorf("expected field error on idempotency_key, got %v", resp)
	}
	if store.tryCalls != 0 || store.saveCalls != 0 || creator.calls != 0 {
		t.Error("invalid key must be rejected before any storage access")
	}
}

func TestPublish_RequiresAuthentication(t *testing.T) {
	handler := PublishNewsletterHandler(&fakeIdemStore{}, &fakeIssueCreator{}, zerolog.Nop())

	rec := servePublish(t, handler, validBody(), uuid.Nil)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestPublish_StartProcessing(t *testing.T) {
	issueID := uuid.New()
	store := &fakeIdemStore{action: &idempotency.NextAction{}}
	creator := &fakeIssueCreator{issueID: issueID, count: 42}
	handler := PublishNewsletterHandler(store, creator, zerolog.Nop())

	rec := servePublish(t, handler, validBody(), uuid.New())

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PublishResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.NewsletterIssueID != issueID {
		t.Errorf("expected issue id %s, got %s", issueID, resp.NewsletterIssueID)
	}
	if resp.SubscribersAtPublish != 42 {
		t.Errorf("expected 42 subscribers, got %d", resp.SubscribersAtPublish)
	}

	if creator.calls != 1 {
		t.Errorf("expected one fan-out, got %d", creator.calls)
	}
	if store.saveCalls != 1 {
		t.Fatalf("expected one SaveResponse call, got %d", store.saveCalls)
	}
	if !bytes.Equal(store.saved.Body, rec.Body.Bytes()) {
		t.Error("persisted response body must match the bytes written to the client")
	}
	if store.saved.StatusCode != http.StatusCreated {
		t.Errorf("expected stored status 201, got %d", store.saved.StatusCode)
	}
}

func TestPublish_ReplaysSavedResponse(t *testing.T) {
	saved := &idempotency.StoredResponse{
		StatusCode: http.StatusCreated,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"newsletter_issue_id":"abc","subscribers_at_publish":7}`),
	}
	store := &fakeIdemStore{action: &idempotency.NextAction{Saved: saved}}
	creator := &fakeIssueCreator{}
	handler := PublishNewsletterHandler(store, creator, zerolog.Nop())

	rec := servePublish(t, handler, validBody(), uuid.New())

	if rec.Code != saved.StatusCode {
		t.Errorf("expected replayed status %d, got %d", saved.StatusCode, rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), saved.Body) {
		t.Error("replayed body must be byte-identical to the saved response")
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected replayed Content-Type header, got %q", got)
	}
	if creator.calls != 0 {
		t.Error("a replayed request must not redo the fan-out")
	}
	if store.saveCalls != 0 {
		t.Error("a replayed request must not complete the record again")
	}
}

func TestPublish_ConcurrentDuplicateInProgress(t *testing.T) {
	store := &fakeIdemStore{tryErr: idempotency.ErrInProgress}
	handler := PublishNewsletterHandler(store, &fakeIssueCreator{}, zerolog.Nop())

	rec := servePublish(t, handler, validBody(), uuid.New())

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for in-progress duplicate, got %d", rec.Code)
	}
}
