package database

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PushStatus is the deploy-readiness verdict of a push
type PushStatus string

const (
	PushStatusPending PushStatus = "pending"
	PushStatusSuccess PushStatus = "success"
	PushStatusFailure PushStatus = "failure"
	// PushStatusAbandoned marks a push whose reconciliation job exhausted its
	// retry budget. Terminal and human-visible; requires manual intervention.
	PushStatusAbandoned PushStatus = "abandoned"
)

// DefaultAncestorBranch is the fallback ref a push is diffed against
const DefaultAncestorBranch = "master"

// MaxCommitMessageLength is the stored (truncated) commit message size
const MaxCommitMessageLength = 1024

// User is reference data for commit authors and issue assignees
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;index" json:"name"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is the source repository a branch belongs to
type Repository struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:1024;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Branch identifies a branch within a repository
type Branch struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RepositoryID uint      `gorm:"not null;uniqueIndex:idx_branches_repo_name" json:"repository_id"`
	Name         string    `gorm:"size:1024;not null;uniqueIndex:idx_branches_repo_name" json:"name"`
	AuthorID     *uint     `json:"author_id,omitempty"`
	GitUpdatedAt time.Time `json:"git_updated_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Repository Repository `gorm:"foreignKey:RepositoryID" json:"repository,omitempty"`
	Author     *User      `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
}

// Service is a deploy target; each push tracks one service. Ref names the
// ancestor branch used as the diff base.
type Service struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Ref  string `gorm:"size:255;not null;default:master" json:"ref"`
}

// Commit is an immutable git commit. Created once per unique SHA; never
// mutated after creation except to attach a resolved issue.
type Commit struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SHA       string    `gorm:"size:40;uniqueIndex;not null" json:"sha"`
	Message   string    `gorm:"size:1024" json:"message"`
	AuthorID  uint      `gorm:"not null" json:"author_id"`
	IssueID   *uint     `gorm:"index" json:"issue_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Author User   `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Issue  *Issue `gorm:"foreignKey:IssueID" json:"issue,omitempty"`
}

func (Commit) TableName() string {
	return "commits"
}

// ShortSHA returns the abbreviated commit hash
func (c *Commit) ShortSHA() string {
	if len(c.SHA) < 7 {
		return c.SHA
	}
	return c.SHA[:7]
}

var noJiraTagPattern = regexp.MustCompile(`(?i)no[-_\s]?jira`)

// MessageContainsNoJiraTag reports whether the commit message carries a
// "no-jira" tag in any of its spellings.
func (c *Commit) MessageContainsNoJiraTag() bool {
	return noJiraTagPattern.MatchString(c.Message)
}

// IssueKeySeparator separates the project key from the issue number
const IssueKeySeparator = "-"

// Issue is an issue-tracker ticket, upserted by key on every reconciliation
// pass.
type Issue struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	Key                   string     `gorm:"size:255;uniqueIndex;not null" json:"key"`
	IssueType             string     `gorm:"size:255" json:"issue_type"`
	Summary               string     `gorm:"type:text" json:"summary"`
	Status                string     `gorm:"size:255" json:"status"`
	TargetedDeployDate    *time.Time `json:"targeted_deploy_date,omitempty"`
	PostDeployCheckStatus string     `gorm:"size:255" json:"post_deploy_check_status"`
	DeployType            string     `gorm:"size:255" json:"deploy_type"`
	SecretsModified       string     `gorm:"size:255" json:"secrets_modified"`
	LongRunningMigration  string     `gorm:"size:255" json:"long_running_migration"`
	AssigneeID            *uint      `json:"assignee_id,omitempty"`
	ParentIssueID         *uint      `gorm:"index" json:"parent_issue_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`

	Assignee    *User  `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	ParentIssue *Issue `gorm:"foreignKey:ParentIssueID" json:"parent_issue,omitempty"`
}

func (Issue) TableName() string {
	return "issues"
}

// Project returns the project portion of the issue key
func (i *Issue) Project() string {
	return strings.SplitN(i.Key, IssueKeySeparator, 2)[0]
}

// Number returns the numeric portion of the issue key
func (i *Issue) Number() int {
	parts := strings.SplitN(i.Key, IssueKeySeparator, 2)
	if len(parts) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(parts[1])
	return n
}

// IsSubTask reports whether the issue has a parent issue
func (i *Issue) IsSubTask() bool {
	return i.ParentIssueID != nil
}

// DeployTypes splits the stored comma-separated deploy type tags
func (i *Issue) DeployTypes() []string {
	if i.DeployType == "" {
		return nil
	}
	var types []string
	for _, t := range strings.Split(i.DeployType, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// LongRunningMigrationRequired reports whether the migration field is
// affirmatively set.
func (i *Issue) LongRunningMigrationRequired() bool {
	return strings.EqualFold(i.LongRunningMigration, "Yes")
}

// Push is one deploy candidate: a head commit on a branch for a service
type Push struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	HeadCommitID uint       `gorm:"not null;uniqueIndex:idx_pushes_head_branch_service" json:"head_commit_id"`
	BranchID     uint       `gorm:"not null;uniqueIndex:idx_pushes_head_branch_service" json:"branch_id"`
	ServiceID    uint       `gorm:"not null;uniqueIndex:idx_pushes_head_branch_service" json:"service_id"`
	Status       PushStatus `gorm:"size:32;not null;default:'pending'" json:"status"`
	EmailSent    bool       `gorm:"default:false" json:"email_sent"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	HeadCommit Commit  `gorm:"foreignKey:HeadCommitID" json:"head_commit,omitempty"`
	Branch     Branch  `gorm:"foreignKey:BranchID" json:"branch,omitempty"`
	Service    Service `gorm:"foreignKey:ServiceID" json:"service,omitempty"`
}

func (Push) TableName() string {
	return "pushes"
}

// String renders the push as branch/sha
func (p *Push) String() string {
	return p.Branch.Name + "/" + p.HeadCommit.SHA
}
