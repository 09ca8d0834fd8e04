package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pushgate/pushgate/internal/config"
	"github.com/pushgate/pushgate/internal/database"
	"github.com/pushgate/pushgate/internal/issuekey"
	"github.com/pushgate/pushgate/internal/rules"
)

// CommitData is one commit as reported by the source-control host
type CommitData struct {
	SHA         string
	Message     string
	AuthorName  string
	AuthorEmail string
}

// IssueData is one issue as reported by the issue tracker
type IssueData struct {
	Key                   string
	Type                  string
	Summary               string
	Status                string
	AssigneeName          string
	PostDeployCheckStatus string
	DeployTypes           []string
	LongRunningMigration  string
	SecretsModified       string
	TargetedDeployDate    *time.Time
	Parent                *IssueData
}

// SourceClient fetches the commits between a push's head and its ancestor
// ref, refreshing remote data first.
type SourceClient interface {
	FetchCommits(ctx context.Context, repoName, headSHA, ancestorRef string) ([]CommitData, error)
}

// IssueQuery selects in-flight issues relevant to a push that its commits do
// not reference.
type IssueQuery struct {
	Statuses    []string
	Projects    []string
	DeployTypes []string
	ExcludeKeys []string
}

// IssueTracker looks issues up by key or by query. FindByKey returns
// (nil, nil) when no such issue exists.
type IssueTracker interface {
	FindByKey(ctx context.Context, key string) (*IssueData, error)
	FindByQuery(ctx context.Context, query IssueQuery) ([]IssueData, error)
}

// Reconciler runs one full reconciliation pass over a push: fetch commits,
// resolve issues, maintain the link tables, detect defects, and recompute the
// push status.
type Reconciler struct {
	db        *gorm.DB
	rules     *config.Rules
	extractor *issuekey.Extractor
	git       SourceClient
	tracker   IssueTracker
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(db *gorm.DB, ruleCfg *config.Rules, git SourceClient, tracker IssueTracker) (*Reconciler, error) {
	extractor, err := issuekey.New(ruleCfg.ProjectKeys)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		db:        db,
		rules:     ruleCfg,
		extractor: extractor,
		git:       git,
		tracker:   tracker,
		now:       time.Now,
	}, nil
}

// Process runs one reconciliation pass. It is idempotent: re-running with no
// underlying change yields the same links and status. Any collaborator or
// persistence error aborts the pass before the terminal status transition, so
// the push stays pending (or on its previous terminal value) and the caller
// retries the whole pass.
func (r *Reconciler) Process(ctx context.Context, pushID uint) (*database.Push, error) {
	push, err := database.FindPushByID(r.db, pushID)
	if err != nil {
		return nil, err
	}

	if err := database.SetPushStatus(r.db, push, database.PushStatusPending); err != nil {
		return nil, err
	}

	log.Printf("Getting commits for push %d (%s)", push.ID, push.String())
	commits, err := r.fetchCommits(ctx, push)
	if err != nil {
		return nil, err
	}

	keysFromCommits := r.extractIssueKeys(commits)

	// include keys already linked to the push so issues whose commits merged
	// away are still updated rather than silently dropped
	priorKeys, err := database.IssueKeysForPush(r.db, push.ID)
	if err != nil {
		return nil, err
	}
	allKeys := unionKeys(keysFromCommits, priorKeys)

	log.Printf("Resolving %d issue keys for push %d", len(allKeys), push.ID)
	issues, err := r.resolveIssues(ctx, allKeys)
	if err != nil {
		return nil, err
	}

	unrelated, err := r.findUnrelatedIssues(ctx, push, allKeys)
	if err != nil {
		return nil, err
	}
	log.Printf("Found %d in-flight issues not referenced by push %d", len(unrelated), push.ID)
	issues = append(issues, unrelated...)

	if err := r.linkCommitsToIssues(issues, commits); err != nil {
		return nil, err
	}

	commitIDs := make([]uint, len(commits))
	for i, commit := range commits {
		commitIDs[i] = commit.ID
		if _, err := database.CreateOrUpdateCommitPush(r.db, &commits[i], push, nil); err != nil {
			return nil, err
		}
	}
	if err := database.DestroyCommitPushesNotIn(r.db, push.ID, commitIDs); err != nil {
		return nil, err
	}

	issueIDs := make([]uint, len(issues))
	for i, issue := range issues {
		issueIDs[i] = issue.ID
		if _, err := database.CreateOrUpdateIssuePush(r.db, &issues[i], push, nil); err != nil {
			return nil, err
		}
	}

	// issues linked on a prior pass whose commits no longer appear in the
	// diff, but which still have commits attached, shipped via an ancestor
	// branch and are marked merged instead of being dropped
	mergedIDs, err := r.mergedIssueIDs(issues, keysFromCommits)
	if err != nil {
		return nil, err
	}
	if err := database.MarkIssuePushesMerged(r.db, push.ID, mergedIDs); err != nil {
		return nil, err
	}

	if err := database.DestroyIssuePushesNotIn(r.db, push.ID, issueIDs); err != nil {
		return nil, err
	}

	if err := r.detectIssueErrors(push); err != nil {
		return nil, err
	}
	if err := r.detectCommitErrors(push); err != nil {
		return nil, err
	}

	status, err := ComputeStatus(r.db, push.ID)
	if err != nil {
		return nil, err
	}
	if err := database.SetPushStatus(r.db, push, status); err != nil {
		return nil, err
	}
	return push, nil
}

// fetchCommits pulls the diff between the push head and its ancestor ref,
// drops commits matching the configured ignore patterns, and upserts the
// rest.
func (r *Reconciler) fetchCommits(ctx context.Context, push *database.Push) ([]database.Commit, error) {
	ancestorRef := r.rules.AncestorBranch(push.Branch.Name)
	data, err := r.git.FetchCommits(ctx, push.Branch.Repository.Name, push.HeadCommit.SHA, ancestorRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commits: %w", err)
	}

	var commits []database.Commit
	for _, cd := range data {
		if r.rules.IgnoreCommitMessage(cd.Message) {
			continue
		}
		commit, err := database.UpsertCommit(r.db, cd.SHA, cd.Message, cd.AuthorName, cd.AuthorEmail)
		if err != nil {
			return nil, err
		}
		commits = append(commits, *commit)
	}
	return commits, nil
}

// extractIssueKeys collects the distinct keys referenced by the commits, in
// commit order.
func (r *Reconciler) extractIssueKeys(commits []database.Commit) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, commit := range commits {
		if key, ok := r.extractor.Extract(commit.Message); ok && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// resolveIssues looks each key up in the tracker and upserts the result.
// Unknown keys are skipped; the affected commits surface issue_not_found.
func (r *Reconciler) resolveIssues(ctx context.Context, keys []string) ([]database.Issue, error) {
	var issues []database.Issue
	for _, key := range keys {
		data, err := r.tracker.FindByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to look up issue %s: %w", key, err)
		}
		if data == nil {
			continue
		}
		issue, err := r.upsertIssue(data)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, nil
}

// findUnrelatedIssues queries the tracker for issues in a valid status that
// should have been in the commits but were not.
func (r *Reconciler) findUnrelatedIssues(ctx context.Context, push *database.Push, excludeKeys []string) ([]database.Issue, error) {
	deployTypes := r.rules.DeployTypesForRepo(push.Branch.Repository.Name)
	if len(deployTypes) == 0 {
		return nil, nil
	}
	data, err := r.tracker.FindByQuery(ctx, IssueQuery{
		Statuses:    r.rules.ValidStatuses,
		Projects:    r.rules.ProjectKeys,
		DeployTypes: deployTypes,
		ExcludeKeys: excludeKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query in-flight issues: %w", err)
	}

	var issues []database.Issue
	for i := range data {
		issue, err := r.upsertIssue(&data[i])
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, nil
}

// upsertIssue persists tracker data by key, parent issue first
func (r *Reconciler) upsertIssue(data *IssueData) (*database.Issue, error) {
	issue := &database.Issue{}
	err := r.db.Where("key = ?", data.Key).First(issue).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to load issue %s: %w", data.Key, err)
		}
		issue = &database.Issue{Key: data.Key}
	}

	issue.IssueType = data.Type
	issue.Summary = truncate(data.Summary, 1024)
	issue.Status = data.Status
	issue.PostDeployCheckStatus = data.PostDeployCheckStatus
	issue.DeployType = joinDeployTypes(data.DeployTypes)
	issue.LongRunningMigration = data.LongRunningMigration
	issue.SecretsModified = data.SecretsModified
	issue.TargetedDeployDate = data.TargetedDeployDate

	if data.AssigneeName != "" {
		assignee, err := database.FindOrCreateUser(r.db, data.AssigneeName,
			database.FakeEmailFromName(data.AssigneeName))
		if err != nil {
			return nil, err
		}
		issue.AssigneeID = &assignee.ID
	} else {
		issue.AssigneeID = nil
	}

	if data.Parent != nil {
		parent, err := r.upsertIssue(data.Parent)
		if err != nil {
			return nil, err
		}
		issue.ParentIssueID = &parent.ID
	} else {
		issue.ParentIssueID = nil
	}

	if err := r.db.Save(issue).Error; err != nil {
		return nil, fmt.Errorf("failed to save issue %s: %w", data.Key, err)
	}
	return issue, nil
}

// linkCommitsToIssues attaches each commit to the issue its message
// references. An issue may gain zero, one, or many commits in a pass.
func (r *Reconciler) linkCommitsToIssues(issues []database.Issue, commits []database.Commit) error {
	byKey := make(map[string]*database.Issue, len(issues))
	for i := range issues {
		byKey[issues[i].Key] = &issues[i]
	}
	for i := range commits {
		key, ok := r.extractor.Extract(commits[i].Message)
		if !ok {
			continue
		}
		issue, ok := byKey[key]
		if !ok {
			continue
		}
		commits[i].IssueID = &issue.ID
		if err := r.db.Model(&database.Commit{}).Where("id = ?", commits[i].ID).
			Update("issue_id", issue.ID).Error; err != nil {
			return fmt.Errorf("failed to link commit %s to issue %s: %w",
				commits[i].SHA, issue.Key, err)
		}
	}
	return nil
}

// mergedIssueIDs selects resolved issues absent from this pass's
// commit-derived key set that still have at least one linked commit.
func (r *Reconciler) mergedIssueIDs(issues []database.Issue, keysFromCommits []string) ([]uint, error) {
	inCommits := make(map[string]bool, len(keysFromCommits))
	for _, key := range keysFromCommits {
		inCommits[key] = true
	}

	var merged []uint
	for _, issue := range issues {
		if inCommits[issue.Key] {
			continue
		}
		count, err := database.CommitCountForIssue(r.db, issue.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count commits for issue %s: %w", issue.Key, err)
		}
		if count > 0 {
			merged = append(merged, issue.ID)
		}
	}
	return merged, nil
}

// detectIssueErrors re-reads the persisted issue links and refreshes each
// defect list. Merged links always carry an empty list.
func (r *Reconciler) detectIssueErrors(push *database.Push) error {
	links, err := database.IssuePushesForPush(r.db, push.ID)
	if err != nil {
		return err
	}
	cfg := rules.Config{
		ValidStatuses:                r.rules.ValidStatuses,
		ValidSubTaskStatuses:         r.rules.ValidSubTaskStatuses,
		ValidPostDeployCheckStatuses: r.rules.ValidPostDeployCheckStatuses,
	}
	for i := range links {
		link := &links[i]
		var defects []string
		if !link.Merged {
			count, err := database.CommitCountForIssueAndPush(r.db, link.IssueID, push.ID)
			if err != nil {
				return fmt.Errorf("failed to count linked commits: %w", err)
			}
			defects = rules.IssueDefects(cfg, &link.Issue, rules.IssueFacts{
				LinkedCommitCount: int(count),
				MergedInPush:      link.Merged,
			}, r.now())
		}
		link.SetErrorList(defects)
		if err := r.db.Omit(clause.Associations).Save(link).Error; err != nil {
			return fmt.Errorf("failed to save issue link: %w", err)
		}
	}
	return nil
}

// detectCommitErrors refreshes each commit link's defect list
func (r *Reconciler) detectCommitErrors(push *database.Push) error {
	links, err := database.CommitPushesForPush(r.db, push.ID)
	if err != nil {
		return err
	}
	for i := range links {
		link := &links[i]
		defects := rules.CommitDefects(
			link.Commit.IssueID != nil,
			r.extractor.Matches(link.Commit.Message),
		)
		link.SetErrorList(defects)
		if err := r.db.Omit(clause.Associations).Save(link).Error; err != nil {
			return fmt.Errorf("failed to save commit link: %w", err)
		}
	}
	return nil
}

func unionKeys(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, key := range a {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	for _, key := range b {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func joinDeployTypes(types []string) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}
