package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Issue defect codes
const (
	ErrorWrongState                = "wrong_state"
	ErrorWrongPostDeployStatus     = "wrong_post_deploy_status"
	ErrorNoCommits                 = "no_commits"
	ErrorWrongDeployDate           = "wrong_deploy_date"
	ErrorNoDeployDate              = "no_deploy_date"
	ErrorBlankSecretsModified      = "blank_secrets_modified"
	ErrorBlankLongRunningMigration = "blank_long_running_migration"
)

// IssuePush links one issue to one push. Merged marks issues whose commits
// have left the push's diff, inferred to have shipped via an ancestor branch.
type IssuePush struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	PushID  uint `gorm:"not null;uniqueIndex:idx_issue_pushes_push_issue" json:"push_id"`
	IssueID uint `gorm:"not null;uniqueIndex:idx_issue_pushes_push_issue;index" json:"issue_id"`

	LinkErrors `gorm:"embedded"`

	Merged    bool      `gorm:"default:false" json:"merged"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Push  Push  `gorm:"foreignKey:PushID" json:"-"`
	Issue Issue `gorm:"foreignKey:IssueID" json:"issue,omitempty"`
}

func (IssuePush) TableName() string {
	return "issue_pushes"
}

// CreateOrUpdateIssuePush upserts the link between an issue and a push with
// the same carry-forward semantics as commit links.
func CreateOrUpdateIssuePush(db *gorm.DB, issue *Issue, push *Push, errorList []string) (*IssuePush, error) {
	link := &IssuePush{}
	created := false
	err := db.Where("push_id = ? AND issue_id = ?", push.ID, issue.ID).First(link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		link = &IssuePush{PushID: push.ID, IssueID: issue.ID}
		created = true
	} else if err != nil {
		return nil, fmt.Errorf("failed to load issue link: %w", err)
	}

	// preserve existing errors if not specified
	if errorList != nil {
		link.SetErrorList(errorList)
	}
	if created {
		link.IgnoreErrors = mostRecentIssueIgnoreFlag(db, issue.ID)
	}

	if err := db.Save(link).Error; err != nil {
		return nil, fmt.Errorf("failed to save issue link: %w", err)
	}
	return link, nil
}

func mostRecentIssueIgnoreFlag(db *gorm.DB, issueID uint) bool {
	var previous IssuePush
	err := db.Where("issue_id = ?", issueID).Order("id desc").First(&previous).Error
	if err != nil {
		return false
	}
	return previous.IgnoreErrors
}

// MarkIssuePushesMerged flags the given issues as merged for this push
func MarkIssuePushesMerged(db *gorm.DB, pushID uint, issueIDs []uint) error {
	if len(issueIDs) == 0 {
		return nil
	}
	err := db.Model(&IssuePush{}).
		Where("push_id = ? AND issue_id IN (?)", pushID, issueIDs).
		Update("merged", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark issue links merged: %w", err)
	}
	return nil
}

// DestroyIssuePushesNotIn removes this push's links to issues outside the
// given set. Merged issues are expected to be in the set, so they are
// retained.
func DestroyIssuePushesNotIn(db *gorm.DB, pushID uint, issueIDs []uint) error {
	query := db.Where("push_id = ?", pushID)
	if len(issueIDs) > 0 {
		query = query.Where("issue_id NOT IN (?)", issueIDs)
	}
	if err := query.Delete(&IssuePush{}).Error; err != nil {
		return fmt.Errorf("failed to destroy stale issue links: %w", err)
	}
	return nil
}

// IssuePushesForPush returns all issue links of a push with issues loaded
func IssuePushesForPush(db *gorm.DB, pushID uint) ([]IssuePush, error) {
	var links []IssuePush
	err := db.Preload("Issue").Preload("Issue.ParentIssue").Preload("Issue.Assignee").
		Where("push_id = ?", pushID).Order("id asc").Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load issue links: %w", err)
	}
	return links, nil
}

// IssueKeysForPush returns the keys of all issues currently linked to a push
func IssueKeysForPush(db *gorm.DB, pushID uint) ([]string, error) {
	var keys []string
	err := db.Model(&IssuePush{}).
		Joins("JOIN issues ON issues.id = issue_pushes.issue_id").
		Where("issue_pushes.push_id = ?", pushID).
		Order("issue_pushes.id asc").
		Pluck("issues.key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load issue keys: %w", err)
	}
	return keys, nil
}

// CountIssuePushesWithUnignoredErrors counts the push's issue links whose
// defects are not ignored.
func CountIssuePushesWithUnignoredErrors(db *gorm.DB, pushID uint) (int64, error) {
	var count int64
	err := scopeWithUnignoredErrors(db.Model(&IssuePush{}).Where("push_id = ?", pushID)).
		Count(&count).Error
	return count, err
}

// IssueErrorCountsForPush tallies unignored issue defects by code
func IssueErrorCountsForPush(db *gorm.DB, pushID uint) (map[string]int, error) {
	var links []IssuePush
	err := scopeWithUnignoredErrors(db.Where("push_id = ?", pushID)).Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load issue links: %w", err)
	}
	counts := make(map[string]int)
	for _, link := range links {
		for _, code := range link.Errors {
			counts[code]++
		}
	}
	return counts, nil
}

// CommitCountForIssueAndPush counts the commits linked both to the issue and
// to the push.
func CommitCountForIssueAndPush(db *gorm.DB, issueID, pushID uint) (int64, error) {
	var count int64
	err := db.Model(&Commit{}).
		Joins("JOIN commit_pushes ON commit_pushes.commit_id = commits.id").
		Where("commits.issue_id = ? AND commit_pushes.push_id = ?", issueID, pushID).
		Count(&count).Error
	return count, err
}

// CommitCountForIssue counts all commits attached to an issue across pushes
func CommitCountForIssue(db *gorm.DB, issueID uint) (int64, error) {
	var count int64
	err := db.Model(&Commit{}).Where("issue_id = ?", issueID).Count(&count).Error
	return count, err
}
