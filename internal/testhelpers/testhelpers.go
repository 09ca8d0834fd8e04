// Package testhelpers provides reusable testing utilities: an in-memory
// database and builders for the core entities.
package testhelpers

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pushgate/pushgate/internal/database"
)

// NewTestDB opens an in-memory database with the full schema migrated
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// CreateService inserts a service row
func CreateService(t *testing.T, db *gorm.DB, name string) *database.Service {
	t.Helper()
	service := &database.Service{Name: name, Ref: database.DefaultAncestorBranch}
	if err := db.Create(service).Error; err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

// CreatePush inserts a push with its commit, branch, repository, and service
func CreatePush(t *testing.T, db *gorm.DB, repoName, branchName, sha, serviceName string) *database.Push {
	t.Helper()
	commit, err := database.UpsertCommit(db, sha, "head commit", "Test Author", "author@example.com")
	if err != nil {
		t.Fatalf("failed to create head commit: %v", err)
	}
	branch, err := database.UpsertBranch(db, repoName, branchName, nil)
	if err != nil {
		t.Fatalf("failed to create branch: %v", err)
	}
	service := &database.Service{}
	if err := db.Where("name = ?", serviceName).First(service).Error; err != nil {
		service = CreateService(t, db, serviceName)
	}

	push := &database.Push{
		HeadCommitID: commit.ID,
		BranchID:     branch.ID,
		ServiceID:    service.ID,
		Status:       database.PushStatusPending,
	}
	if err := db.Create(push).Error; err != nil {
		t.Fatalf("failed to create push: %v", err)
	}
	if _, err := database.CreateOrUpdateCommitPush(db, commit, push, nil); err != nil {
		t.Fatalf("failed to link head commit: %v", err)
	}
	loaded, err := database.FindPushByID(db, push.ID)
	if err != nil {
		t.Fatalf("failed to reload push: %v", err)
	}
	return loaded
}

// IssueBuilder builds Issue rows for testing
type IssueBuilder struct {
	issue database.Issue
}

// NewIssueBuilder creates a builder with a fully deploy-ready issue
func NewIssueBuilder(key string) *IssueBuilder {
	deployDate := time.Now().AddDate(0, 0, 7)
	return &IssueBuilder{
		issue: database.Issue{
			Key:                   key,
			IssueType:             "Story",
			Summary:               "Test issue",
			Status:                "Ready to Deploy",
			PostDeployCheckStatus: "Ready to Run",
			SecretsModified:       "No",
			LongRunningMigration:  "No",
			TargetedDeployDate:    &deployDate,
		},
	}
}

// WithStatus sets the issue status
func (b *IssueBuilder) WithStatus(status string) *IssueBuilder {
	b.issue.Status = status
	return b
}

// WithDeployDate sets the targeted deploy date
func (b *IssueBuilder) WithDeployDate(date *time.Time) *IssueBuilder {
	b.issue.TargetedDeployDate = date
	return b
}

// WithPostDeployCheckStatus sets the post-deploy check status
func (b *IssueBuilder) WithPostDeployCheckStatus(status string) *IssueBuilder {
	b.issue.PostDeployCheckStatus = status
	return b
}

// WithParent sets the parent issue, making this a sub-task
func (b *IssueBuilder) WithParent(parent *database.Issue) *IssueBuilder {
	b.issue.ParentIssueID = &parent.ID
	b.issue.ParentIssue = parent
	return b
}

// Build returns the issue without persisting it
func (b *IssueBuilder) Build() database.Issue {
	return b.issue
}

// Create persists and returns the issue
func (b *IssueBuilder) Create(t *testing.T, db *gorm.DB) *database.Issue {
	t.Helper()
	issue := b.issue
	if err := db.Create(&issue).Error; err != nil {
		t.Fatalf("failed to create issue %s: %v", issue.Key, err)
	}
	return &issue
}
