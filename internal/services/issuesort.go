package services

import (
	"strings"

	"github.com/pushgate/pushgate/internal/database"
)

// CompareIssues orders two issues for display. Sub-tasks sort by their parent
// issue first, so a parent and its sub-tasks group together; within a project
// the numeric issue number decides. Requires ParentIssue to be loaded on
// sub-tasks.
func CompareIssues(a, b *database.Issue) int {
	switch {
	case a.ParentIssue != nil && b.ParentIssue != nil:
		if a.ParentIssue.Key == b.ParentIssue.Key {
			return compareKeys(a, b)
		}
		return CompareIssues(a.ParentIssue, b.ParentIssue)
	case a.ParentIssue != nil:
		return CompareIssues(a.ParentIssue, b)
	case b.ParentIssue != nil:
		return CompareIssues(a, b.ParentIssue)
	default:
		return compareKeys(a, b)
	}
}

func compareKeys(a, b *database.Issue) int {
	if c := strings.Compare(a.Project(), b.Project()); c != 0 {
		return c
	}
	switch {
	case a.Number() < b.Number():
		return -1
	case a.Number() > b.Number():
		return 1
	default:
		return 0
	}
}
