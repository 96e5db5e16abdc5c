package githubbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/patchline/patchline/internal/confirm"
	"github.com/patchline/patchline/internal/engine"
	"github.com/patchline/patchline/internal/github"
)

type fakeCommentAPI struct {
	mu       sync.Mutex
	pr       *github.PullRequest
	prErr    error
	comments []string
}

func (f *fakeCommentAPI) GetPullRequest(ctx context.Context, number int) (*github.PullRequest, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.pr, nil
}

func (f *fakeCommentAPI) CreateIssueComment(ctx context.Context, number int, body string) (*github.IssueComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return &github.IssueComment{ID: int64(len(f.comments)), Body: body}, nil
}

type recordingHandler struct {
	mu       sync.Mutex
	gate     *confirm.Gate
	reply    string
	messages []engine.Message
}

func newRecordingHandler(reply string) *recordingHandler {
	return &recordingHandler{gate: confirm.New(), reply: reply}
}

func (h *recordingHandler) HandleMessage(ctx context.Context, msg engine.Message) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return h.reply
}

func (h *recordingHandler) Gate() *confirm.Gate { return h.gate }

func setupTestServer(t *testing.T, reply string) (*Server, *recordingHandler, *fakeCommentAPI, []byte) {
	t.Helper()

	handler := newRecordingHandler(reply)
	api := &fakeCommentAPI{
		pr: &github.PullRequest{
			Number:  17,
			HTMLURL: "https://github.com/acme/widgets/pull/17",
			Head: github.Ref{
				Ref:  "feature/login",
				Repo: &github.Repository{FullName: "acme/widgets"},
			},
		},
	}
	secret := []byte("test-secret")

	server := NewServer(ServerConfig{
		Handler:  handler,
		Clients:  func(installationID int64, owner, repo string) CommentAPI { return api },
		Secret:   secret,
		BotLogin: "patchline",
	})
	return server, handler, api, secret
}

func commentPayload(body, commenterLogin, commenterType string) []byte {
	payload := map[string]interface{}{
		"action": "created",
		"issue": map[string]interface{}{
			"number":       17,
			"pull_request": map[string]interface{}{"html_url": "https://github.com/acme/widgets/pull/17"},
		},
		"comment": map[string]interface{}{
			"id":   4242,
			"body": body,
			"user": map[string]interface{}{"login": commenterLogin, "type": commenterType},
		},
		"repository": map[string]interface{}{
			"name":      "widgets",
			"full_name": "acme/widgets",
			"owner":     map[string]interface{}{"login": "acme"},
		},
		"installation": map[string]interface{}{"id": 7},
	}
	out, _ := json.Marshal(payload)
	return out
}

func deliver(t *testing.T, server *Server, payload, secret []byte, event string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "guid-1")
	if secret != nil {
		req.Header.Set("X-Hub-Signature-256", SignPayload(payload, secret))
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	server, handler, _, _ := setupTestServer(t, "ok")
	payload := commentPayload("@patchline apply: update README", "dev", "User")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(handler.messages) != 0 {
		t.Error("unverified delivery must not reach the engine")
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	server, _, _, _ := setupTestServer(t, "ok")
	payload := commentPayload("@patchline apply: x", "dev", "User")

	w := deliver(t, server, payload, nil, "issue_comment")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	server, _, _, _ := setupTestServer(t, "ok")
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWebhookPing(t *testing.T) {
	server, _, _, secret := setupTestServer(t, "ok")
	payload := []byte(`{"zen":"Design for failure."}`)
	w := deliver(t, server, payload, secret, "ping")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestWebhookAcceptsMention(t *testing.T) {
	server, _, _, secret := setupTestServer(t, "done")
	payload := commentPayload("@patchline apply: update README", "dev", "User")

	w := deliver(t, server, payload, secret, "issue_comment")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

func TestWebhookIgnoresIrrelevantDeliveries(t *testing.T) {
	server, handler, _, secret := setupTestServer(t, "ok")

	tests := []struct {
		name    string
		payload []byte
		event   string
	}{
		{
			name:    "no mention and no pending confirmation",
			payload: commentPayload("looks good to me", "dev", "User"),
			event:   "issue_comment",
		},
		{
			name:    "bot-authored comment",
			payload: commentPayload("@patchline apply: loop", "patchline[bot]", "Bot"),
			event:   "issue_comment",
		},
		{
			name:    "unhandled event type",
			payload: []byte(`{"action":"opened"}`),
			event:   "pull_request",
		},
		{
			name: "comment on a plain issue",
			payload: func() []byte {
				p := commentPayload("@patchline apply: x", "dev", "User")
				var m map[string]interface{}
				_ = json.Unmarshal(p, &m)
				delete(m["issue"].(map[string]interface{}), "pull_request")
				out, _ := json.Marshal(m)
				return out
			}(),
			event: "issue_comment",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := deliver(t, server, tt.payload, secret, tt.event)
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200 ignored", w.Code)
			}
		})
	}
	if len(handler.messages) != 0 {
		t.Errorf("engine saw %d messages, want 0", len(handler.messages))
	}
}

func TestProcessBuildsMessageAndPostsReply(t *testing.T) {
	server, handler, api, _ := setupTestServer(t, "Opened a PR")

	var ev commentEvent
	if err := json.Unmarshal(commentPayload("@patchline apply: update README", "dev", "User"), &ev); err != nil {
		t.Fatal(err)
	}
	server.process(context.Background(), ev, "guid-1")

	if len(handler.messages) != 1 {
		t.Fatalf("engine saw %d messages, want 1", len(handler.messages))
	}
	msg := handler.messages[0]
	if msg.Surface != engine.SurfaceGitHubMention {
		t.Errorf("surface = %q", msg.Surface)
	}
	if msg.Owner != "acme" || msg.Repo != "widgets" || msg.InstallationID != 7 {
		t.Errorf("repo ref = %s/%s@%d", msg.Owner, msg.Repo, msg.InstallationID)
	}
	if msg.PRNumber != 17 || msg.CommentID != 4242 {
		t.Errorf("pr = %d comment = %d", msg.PRNumber, msg.CommentID)
	}
	if msg.PRHeadRef != "feature/login" || !msg.PRHeadSameRepo {
		t.Errorf("head = %q sameRepo = %v", msg.PRHeadRef, msg.PRHeadSameRepo)
	}
	if msg.DeliveryID != "guid-1" {
		t.Errorf("delivery = %q", msg.DeliveryID)
	}

	if len(api.comments) != 1 || api.comments[0] != "Opened a PR" {
		t.Errorf("posted comments = %v", api.comments)
	}
}

func TestProcessForkHeadNotSameRepo(t *testing.T) {
	server, handler, api, _ := setupTestServer(t, "")
	api.pr.Head.Repo = &github.Repository{FullName: "forker/widgets"}

	var ev commentEvent
	_ = json.Unmarshal(commentPayload("@patchline apply: x", "dev", "User"), &ev)
	server.process(context.Background(), ev, "guid-2")

	if handler.messages[0].PRHeadSameRepo {
		t.Error("fork head must not be treated as same-repo")
	}
}

func TestProcessSurvivesPRLookupFailure(t *testing.T) {
	server, handler, _, _ := setupTestServer(t, "")
	h := server.clients(7, "acme", "widgets").(*fakeCommentAPI)
	h.prErr = fmt.Errorf("boom")

	var ev commentEvent
	_ = json.Unmarshal(commentPayload("@patchline apply: x", "dev", "User"), &ev)
	server.process(context.Background(), ev, "guid-3")

	// Engine still runs; publish falls back to the bot branch strategy.
	if len(handler.messages) != 1 {
		t.Fatalf("engine saw %d messages, want 1", len(handler.messages))
	}
	if handler.messages[0].PRHeadRef != "" {
		t.Errorf("head = %q, want empty on lookup failure", handler.messages[0].PRHeadRef)
	}
}

func TestPendingConfirmationReplyIsRelevantWithoutMention(t *testing.T) {
	server, handler, _, secret := setupTestServer(t, "reminder")
	handler.gate.OpenPending("acme/widgets", "pr-17", "acme", "widgets",
		"apply", "delete everything", "reply exactly", confirm.DefaultTTL)

	payload := commentPayload("confirm: apply: delete everything", "dev", "User")
	w := deliver(t, server, payload, secret, "issue_comment")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202 while a confirmation is pending", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _, _ := setupTestServer(t, "ok")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
