package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/pushgate/pushgate/internal/database"
	"github.com/pushgate/pushgate/internal/services"
)

// Human-readable descriptions per defect code
var (
	commitErrorMessages = map[string]string{
		database.ErrorNoIssueNumber: "Has no issue number",
		database.ErrorIssueNotFound: "Has an unknown issue number",
	}
	issueErrorMessages = map[string]string{
		database.ErrorWrongState:                "In the wrong state",
		database.ErrorNoCommits:                 "Has no commits",
		database.ErrorWrongDeployDate:           "The deploy date is in the past",
		database.ErrorNoDeployDate:              "Has no deploy date",
		database.ErrorWrongPostDeployStatus:     "Wrong post deploy check status",
		database.ErrorBlankSecretsModified:      "Secrets field is blank",
		database.ErrorBlankLongRunningMigration: "Migrations field is blank",
	}
)

// PushHandler serves push intake and the push status API
type PushHandler struct {
	db         *gorm.DB
	dispatcher *services.Dispatcher
}

// NewPushHandler creates a push handler
func NewPushHandler(db *gorm.DB, dispatcher *services.Dispatcher) *PushHandler {
	return &PushHandler{db: db, dispatcher: dispatcher}
}

// Register wires the handler's routes into a mux
func (h *PushHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/webhook/push", h.HandlePushWebhook)
	mux.HandleFunc("/api/push/", h.HandlePush)
}

// HandleHealth reports liveness
func (h *PushHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pushWebhookPayload is the subset of the GitHub push event we consume
type pushWebhookPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"head_commit"`
}

// HandlePushWebhook ingests a push event: one push per service is created
// for the head commit and submitted for reconciliation.
// Route: POST /webhook/push
func (h *PushHandler) HandlePushWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload pushWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.HeadCommit.ID == "" || payload.Repository.FullName == "" {
		http.Error(w, "missing head commit or repository", http.StatusBadRequest)
		return
	}

	branchName := strings.TrimPrefix(payload.Ref, "refs/heads/")
	pushes, err := database.CreatePushesForHead(h.db,
		payload.Repository.FullName,
		branchName,
		payload.HeadCommit.ID,
		payload.HeadCommit.Message,
		payload.HeadCommit.Author.Name,
		payload.HeadCommit.Author.Email,
	)
	if err != nil {
		log.Printf("Failed to create pushes for %s: %v", payload.HeadCommit.ID, err)
		http.Error(w, "failed to create pushes", http.StatusInternalServerError)
		return
	}

	for i := range pushes {
		if _, err := h.dispatcher.SubmitPush(r.Context(), &pushes[i]); err != nil {
			log.Printf("Failed to submit push %d: %v", pushes[i].ID, err)
			http.Error(w, "failed to submit push", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"pushes": len(pushes),
	})
}

// HandlePush dispatches the status and ignore endpoints.
// Routes: GET /api/push/{sha}, POST /api/push/{sha}/ignore
func (h *PushHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/push/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if sha, ok := strings.CutSuffix(rest, "/ignore"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleIgnore(w, r, sha)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.handleStatus(w, r, rest)
}

type commitLinkView struct {
	SHA      string   `json:"sha"`
	ShortSHA string   `json:"short_sha"`
	Message  string   `json:"message"`
	Errors   []string `json:"errors"`
	Messages []string `json:"messages"`
	Ignored  bool     `json:"ignored"`
	NoJira   bool     `json:"no_jira"`
}

type issueLinkView struct {
	Key      string   `json:"key"`
	Summary  string   `json:"summary"`
	Status   string   `json:"status"`
	Errors   []string `json:"errors"`
	Messages []string `json:"messages"`
	Ignored  bool     `json:"ignored"`
	Merged   bool     `json:"merged"`
}

type pushStatusView struct {
	SHA         string                    `json:"sha"`
	Branch      string                    `json:"branch"`
	Repository  string                    `json:"repository"`
	Service     string                    `json:"service"`
	Status      database.PushStatus       `json:"status"`
	Commits     []commitLinkView          `json:"commits"`
	Issues      []issueLinkView           `json:"issues"`
	ErrorCounts map[string]map[string]int `json:"error_counts"`
}

func (h *PushHandler) handleStatus(w http.ResponseWriter, r *http.Request, sha string) {
	pushes, err := database.FindPushesBySHA(h.db, sha)
	if err != nil {
		log.Printf("Failed to load pushes for %s: %v", sha, err)
		http.Error(w, "failed to load push", http.StatusInternalServerError)
		return
	}
	if len(pushes) == 0 {
		http.Error(w, "push not found", http.StatusNotFound)
		return
	}

	views := make([]pushStatusView, 0, len(pushes))
	for i := range pushes {
		view, err := h.buildStatusView(&pushes[i])
		if err != nil {
			log.Printf("Failed to build status view for push %d: %v", pushes[i].ID, err)
			http.Error(w, "failed to load push", http.StatusInternalServerError)
			return
		}
		views = append(views, *view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pushes": views})
}

func (h *PushHandler) buildStatusView(push *database.Push) (*pushStatusView, error) {
	commitLinks, err := database.CommitPushesForPush(h.db, push.ID)
	if err != nil {
		return nil, err
	}
	issueLinks, err := database.IssuePushesForPush(h.db, push.ID)
	if err != nil {
		return nil, err
	}
	counts, err := services.ErrorCounts(h.db, push.ID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(issueLinks, func(i, j int) bool {
		return services.CompareIssues(&issueLinks[i].Issue, &issueLinks[j].Issue) > 0
	})

	view := &pushStatusView{
		SHA:         push.HeadCommit.SHA,
		Branch:      push.Branch.Name,
		Repository:  push.Branch.Repository.Name,
		Service:     push.Service.Name,
		Status:      push.Status,
		Commits:     []commitLinkView{},
		Issues:      []issueLinkView{},
		ErrorCounts: counts,
	}
	for _, link := range commitLinks {
		view.Commits = append(view.Commits, commitLinkView{
			SHA:      link.Commit.SHA,
			ShortSHA: link.Commit.ShortSHA(),
			Message:  link.Commit.Message,
			Errors:   link.Errors,
			Messages: describeErrors(link.Errors, commitErrorMessages),
			Ignored:  link.IgnoreErrors,
			NoJira:   link.NoJira,
		})
	}
	for _, link := range issueLinks {
		view.Issues = append(view.Issues, issueLinkView{
			Key:      link.Issue.Key,
			Summary:  link.Issue.Summary,
			Status:   link.Issue.Status,
			Errors:   link.Errors,
			Messages: describeErrors(link.Errors, issueErrorMessages),
			Ignored:  link.IgnoreErrors,
			Merged:   link.Merged,
		})
	}
	return view, nil
}

type ignoreRequest struct {
	IssueKeysToIgnore  []string `json:"issue_keys_to_ignore"`
	CommitSHAsToIgnore []string `json:"commit_shas_to_ignore"`
}

// handleIgnore updates the ignore flags on a push's links from the given key
// and SHA lists, then resubmits the push for reconciliation.
func (h *PushHandler) handleIgnore(w http.ResponseWriter, r *http.Request, sha string) {
	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	pushes, err := database.FindPushesBySHA(h.db, sha)
	if err != nil || len(pushes) == 0 {
		http.Error(w, "push not found", http.StatusNotFound)
		return
	}

	updated := 0
	for i := range pushes {
		n, err := h.applyIgnoreFlags(&pushes[i], &req)
		if err != nil {
			log.Printf("Failed to update ignore flags for push %d: %v", pushes[i].ID, err)
			http.Error(w, "failed to update push", http.StatusInternalServerError)
			return
		}
		updated += n
	}

	for i := range pushes {
		if _, err := h.dispatcher.SubmitPush(r.Context(), &pushes[i]); err != nil {
			log.Printf("Failed to resubmit push %d: %v", pushes[i].ID, err)
			http.Error(w, "failed to resubmit push", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": updated})
}

func (h *PushHandler) applyIgnoreFlags(push *database.Push, req *ignoreRequest) (int, error) {
	updated := 0

	issueLinks, err := database.IssuePushesForPush(h.db, push.ID)
	if err != nil {
		return 0, err
	}
	for i := range issueLinks {
		link := &issueLinks[i]
		ignore := contains(req.IssueKeysToIgnore, link.Issue.Key)
		if link.IgnoreErrors == ignore {
			continue
		}
		if err := h.db.Model(link).Update("ignore_errors", ignore).Error; err != nil {
			return 0, err
		}
		updated++
	}

	commitLinks, err := database.CommitPushesForPush(h.db, push.ID)
	if err != nil {
		return 0, err
	}
	for i := range commitLinks {
		link := &commitLinks[i]
		ignore := contains(req.CommitSHAsToIgnore, link.Commit.SHA)
		if link.IgnoreErrors == ignore {
			continue
		}
		if err := h.db.Model(link).Update("ignore_errors", ignore).Error; err != nil {
			return 0, err
		}
		updated++
	}

	return updated, nil
}

func describeErrors(codes []string, messages map[string]string) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if message, ok := messages[code]; ok {
			out = append(out, message)
		} else {
			out = append(out, code)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
