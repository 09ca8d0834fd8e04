package services

import (
	"gorm.io/gorm"

	"github.com/pushgate/pushgate/internal/database"
)

// ComputeStatus folds a push's link-level defects into a single verdict:
// failure iff any commit or issue link carries unignored defects. A push with
// no links at all is a success. The caller persists the result.
func ComputeStatus(db *gorm.DB, pushID uint) (database.PushStatus, error) {
	commitCount, err := database.CountCommitPushesWithUnignoredErrors(db, pushID)
	if err != nil {
		return "", err
	}
	if commitCount > 0 {
		return database.PushStatusFailure, nil
	}

	issueCount, err := database.CountIssuePushesWithUnignoredErrors(db, pushID)
	if err != nil {
		return "", err
	}
	if issueCount > 0 {
		return database.PushStatusFailure, nil
	}

	return database.PushStatusSuccess, nil
}

// ErrorCounts tallies a push's unignored defects by entity and code
func ErrorCounts(db *gorm.DB, pushID uint) (map[string]map[string]int, error) {
	issueCounts, err := database.IssueErrorCountsForPush(db, pushID)
	if err != nil {
		return nil, err
	}
	commitCounts, err := database.CommitErrorCountsForPush(db, pushID)
	if err != nil {
		return nil, err
	}
	return map[string]map[string]int{
		"issue":  issueCounts,
		"commit": commitCounts,
	}, nil
}
