package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Commit defect codes
const (
	ErrorNoIssueNumber = "no_issue_number"
	ErrorIssueNotFound = "issue_not_found"
)

// CommitPush links one commit to one push, carrying the commit's defect list
// for that push.
type CommitPush struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	PushID   uint `gorm:"not null;uniqueIndex:idx_commit_pushes_push_commit" json:"push_id"`
	CommitID uint `gorm:"not null;uniqueIndex:idx_commit_pushes_push_commit;index" json:"commit_id"`

	LinkErrors `gorm:"embedded"`

	NoJira    bool      `gorm:"default:false" json:"no_jira"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Push   Push   `gorm:"foreignKey:PushID" json:"-"`
	Commit Commit `gorm:"foreignKey:CommitID" json:"commit,omitempty"`
}

func (CommitPush) TableName() string {
	return "commit_pushes"
}

// CreateOrUpdateCommitPush upserts the link between a commit and a push. A
// newly created link inherits the ignore flag from the most recent link
// involving the same commit on any push.
func CreateOrUpdateCommitPush(db *gorm.DB, commit *Commit, push *Push, errorList []string) (*CommitPush, error) {
	link := &CommitPush{}
	created := false
	err := db.Where("push_id = ? AND commit_id = ?", push.ID, commit.ID).First(link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		link = &CommitPush{PushID: push.ID, CommitID: commit.ID}
		created = true
	} else if err != nil {
		return nil, fmt.Errorf("failed to load commit link: %w", err)
	}

	// preserve existing errors if not specified
	if errorList != nil {
		link.SetErrorList(errorList)
	}
	// a new link inherits the ignore flag from the most recent link involving
	// the same commit on any push, after the error list is set
	if created {
		link.IgnoreErrors = mostRecentCommitIgnoreFlag(db, commit.ID)
	}
	link.NoJira = commit.MessageContainsNoJiraTag()

	if err := db.Save(link).Error; err != nil {
		return nil, fmt.Errorf("failed to save commit link: %w", err)
	}
	return link, nil
}

// mostRecentCommitIgnoreFlag finds the ignore flag of the newest link (by
// creation order, i.e. highest id) involving the same commit. Creation order
// is not push chronology when several services create pushes out of order.
func mostRecentCommitIgnoreFlag(db *gorm.DB, commitID uint) bool {
	var previous CommitPush
	err := db.Where("commit_id = ?", commitID).Order("id desc").First(&previous).Error
	if err != nil {
		return false
	}
	return previous.IgnoreErrors
}

// DestroyCommitPushesNotIn removes this push's links to commits outside the
// given set. An empty set removes all of the push's commit links.
func DestroyCommitPushesNotIn(db *gorm.DB, pushID uint, commitIDs []uint) error {
	query := db.Where("push_id = ?", pushID)
	if len(commitIDs) > 0 {
		query = query.Where("commit_id NOT IN (?)", commitIDs)
	}
	if err := query.Delete(&CommitPush{}).Error; err != nil {
		return fmt.Errorf("failed to destroy stale commit links: %w", err)
	}
	return nil
}

// CommitPushesForPush returns all commit links of a push with commits loaded
func CommitPushesForPush(db *gorm.DB, pushID uint) ([]CommitPush, error) {
	var links []CommitPush
	err := db.Preload("Commit").Preload("Commit.Author").
		Where("push_id = ?", pushID).Order("id asc").Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load commit links: %w", err)
	}
	return links, nil
}

// CountCommitPushesWithUnignoredErrors counts the push's commit links whose
// defects are not ignored.
func CountCommitPushesWithUnignoredErrors(db *gorm.DB, pushID uint) (int64, error) {
	var count int64
	err := scopeWithUnignoredErrors(db.Model(&CommitPush{}).Where("push_id = ?", pushID)).
		Count(&count).Error
	return count, err
}

// CommitErrorCountsForPush tallies unignored commit defects by code
func CommitErrorCountsForPush(db *gorm.DB, pushID uint) (map[string]int, error) {
	var links []CommitPush
	err := scopeWithUnignoredErrors(db.Where("push_id = ?", pushID)).Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load commit links: %w", err)
	}
	counts := make(map[string]int)
	for _, link := range links {
		for _, code := range link.Errors {
			counts[code]++
		}
	}
	return counts, nil
}
