// Package rules evaluates the deploy-readiness defect rules for commits and
// issues. All functions are pure; defects are returned, never raised.
package rules

import (
	"strings"
	"time"

	"github.com/pushgate/pushgate/internal/database"
)

// Config is the rule configuration slice needed for defect evaluation
type Config struct {
	ValidStatuses                []string
	ValidSubTaskStatuses         []string
	ValidPostDeployCheckStatuses []string
}

// IssueFacts is the push-scoped context an issue is judged against
type IssueFacts struct {
	LinkedCommitCount int
	MergedInPush      bool
}

// CommitDefects classifies one commit. At most one code applies, since issue
// resolution is binary: either no key pattern appeared at all, or a key
// matched but the tracker had no such issue.
func CommitDefects(issueResolved, keyMatched bool) []string {
	if issueResolved {
		return nil
	}
	if keyMatched {
		return []string{database.ErrorIssueNotFound}
	}
	return []string{database.ErrorNoIssueNumber}
}

// IssueDefects classifies one issue against the rule set. Merged issue links
// must be skipped by the caller; this function assumes an unmerged link.
func IssueDefects(cfg Config, issue *database.Issue, facts IssueFacts, today time.Time) []string {
	var defects []string

	validStates := cfg.ValidStatuses
	if issue.IsSubTask() {
		validStates = cfg.ValidSubTaskStatuses
	}
	if !containsFold(validStates, issue.Status) {
		defects = append(defects, database.ErrorWrongState)
	}

	if issue.PostDeployCheckStatus == "" ||
		!containsFold(cfg.ValidPostDeployCheckStatuses, issue.PostDeployCheckStatus) {
		defects = append(defects, database.ErrorWrongPostDeployStatus)
	}

	if facts.LinkedCommitCount == 0 && !facts.MergedInPush {
		defects = append(defects, database.ErrorNoCommits)
	}

	if issue.TargetedDeployDate != nil {
		if beforeDay(*issue.TargetedDeployDate, today) {
			defects = append(defects, database.ErrorWrongDeployDate)
		}
	} else {
		defects = append(defects, database.ErrorNoDeployDate)
	}

	if issue.SecretsModified == "" {
		defects = append(defects, database.ErrorBlankSecretsModified)
	}

	if issue.LongRunningMigration == "" {
		defects = append(defects, database.ErrorBlankLongRunningMigration)
	}

	return defects
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// beforeDay compares calendar dates, ignoring time of day
func beforeDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}
