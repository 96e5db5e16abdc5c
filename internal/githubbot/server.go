// Package githubbot implements the GitHub front-end: an HTTP server that
// receives issue_comment webhook deliveries, filters them down to @mentions
// of the bot (or replies in a PR thread with a pending confirmation), and
// runs them through the engine. Replies are posted back as PR comments.
package githubbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/patchline/patchline/internal/confirm"
	"github.com/patchline/patchline/internal/engine"
	"github.com/patchline/patchline/internal/github"
)

// processTimeout bounds one delivery's end-to-end handling (clone, executor,
// publish). The webhook response itself returns immediately.
const processTimeout = 10 * time.Minute

// CommentAPI is the slice of the GitHub client the server needs, scoped to
// one repository.
type CommentAPI interface {
	GetPullRequest(ctx context.Context, number int) (*github.PullRequest, error)
	CreateIssueComment(ctx context.Context, number int, body string) (*github.IssueComment, error)
}

// ClientFactory builds a repo-scoped API client for an installation.
type ClientFactory func(installationID int64, owner, repo string) CommentAPI

// Handler abstracts the write-intent engine for testability.
type Handler interface {
	HandleMessage(ctx context.Context, msg engine.Message) string
	Gate() *confirm.Gate
}

// Server handles HTTP requests for GitHub webhook deliveries.
type Server struct {
	handler    Handler
	clients    ClientFactory
	secret     []byte
	botLogin   string
	mentionRe  *regexp.Regexp
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Handler  Handler
	Clients  ClientFactory
	Secret   []byte // HMAC secret for delivery signature validation
	BotLogin string // the app's @mention handle, without the leading @
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		handler:   cfg.Handler,
		clients:   cfg.Clients,
		secret:    cfg.Secret,
		botLogin:  cfg.BotLogin,
		mentionRe: mentionPattern(cfg.BotLogin),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/webhook", s.handleWebhook)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// mentionPattern matches @login or @login[bot] as a standalone token.
func mentionPattern(login string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|\s)@` + regexp.QuoteMeta(login) + `(\[bot\])?\b`)
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// commentEvent is the subset of the issue_comment payload the server reads.
type commentEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int `json:"number"`
		PullRequest *struct {
			HTMLURL string `json:"html_url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"user"`
	} `json:"comment"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// handleWebhook handles POST /webhook. Deliveries are acknowledged with 202
// before processing so GitHub's 10s delivery timeout never races a clone.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	if len(s.secret) > 0 {
		if err := ValidateSignature(body, r.Header.Get("X-Hub-Signature-256"), s.secret); err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	switch r.Header.Get("X-GitHub-Event") {
	case "ping":
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pong"})
		return

	case "issue_comment":
		var ev commentEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		if !s.relevant(ev) {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
			defer cancel()
			s.process(ctx, ev, deliveryID)
		}()
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
		return

	default:
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
	}
}

// relevant filters a delivery before any API call: created comments on pull
// requests, from humans, that either mention the bot or land in a PR thread
// holding a pending confirmation.
func (s *Server) relevant(ev commentEvent) bool {
	if ev.Action != "created" || ev.Issue.PullRequest == nil {
		return false
	}
	if ev.Comment.User.Type == "Bot" || strings.EqualFold(ev.Comment.User.Login, s.botLogin) ||
		strings.EqualFold(ev.Comment.User.Login, s.botLogin+"[bot]") {
		return false
	}
	if s.mentionRe.MatchString(ev.Comment.Body) {
		return true
	}
	channel := ev.Repository.Owner.Login + "/" + ev.Repository.Name
	thread := fmt.Sprintf("pr-%d", ev.Issue.Number)
	return s.handler.Gate().GetPending(channel, thread) != nil
}

// process runs one relevant delivery through the engine and posts the reply
// as a PR comment.
func (s *Server) process(ctx context.Context, ev commentEvent, deliveryID string) {
	owner := ev.Repository.Owner.Login
	repo := ev.Repository.Name
	api := s.clients(ev.Installation.ID, owner, repo)

	msg := engine.Message{
		Surface:        engine.SurfaceGitHubMention,
		InstallationID: ev.Installation.ID,
		Owner:          owner,
		Repo:           repo,
		PRNumber:       ev.Issue.Number,
		CommentID:      ev.Comment.ID,
		DeliveryID:     deliveryID,
		Sender:         ev.Comment.User.Login,
		Text:           ev.Comment.Body,
	}

	pr, err := api.GetPullRequest(ctx, ev.Issue.Number)
	if err != nil {
		log.Printf("githubbot: failed to load PR %s/%s#%d: %v", owner, repo, ev.Issue.Number, err)
	} else {
		msg.PRURL = pr.HTMLURL
		msg.PRHeadRef = pr.Head.Ref
		msg.PRHeadSameRepo = pr.Head.Repo != nil && pr.Head.Repo.FullName == ev.Repository.FullName
	}

	reply := s.handler.HandleMessage(ctx, msg)
	if reply == "" {
		return
	}
	if _, err := api.CreateIssueComment(ctx, ev.Issue.Number, reply); err != nil {
		log.Printf("githubbot: failed to post reply on %s/%s#%d: %v", owner, repo, ev.Issue.Number, err)
	}
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
