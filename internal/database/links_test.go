package database_test

import (
	"testing"

	"github.com/pushgate/pushgate/internal/database"
	"github.com/pushgate/pushgate/internal/testhelpers"
)

func TestCreateOrUpdateCommitPush(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")

	commit, err := database.UpsertCommit(db, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"STORY-1 fix", "Dev", "dev@example.com")
	if err != nil {
		t.Fatal(err)
	}

	link, err := database.CreateOrUpdateCommitPush(db, commit, push, []string{database.ErrorIssueNotFound})
	if err != nil {
		t.Fatal(err)
	}
	if !link.Errors.Has(database.ErrorIssueNotFound) {
		t.Errorf("Errors = %v", link.Errors)
	}
	if link.NoJira {
		t.Error("NoJira should be false for a keyed message")
	}

	// second call with the same set must not create a second row
	again, err := database.CreateOrUpdateCommitPush(db, commit, push, []string{database.ErrorIssueNotFound})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != link.ID {
		t.Errorf("expected the same link row, got %d and %d", link.ID, again.ID)
	}

	// nil error list preserves the existing defects
	again, err = database.CreateOrUpdateCommitPush(db, commit, push, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Errors.Has(database.ErrorIssueNotFound) {
		t.Errorf("nil list should preserve errors, got %v", again.Errors)
	}
}

func TestCommitPushNoJiraFlag(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")

	commit, err := database.UpsertCommit(db, "cccccccccccccccccccccccccccccccccccccccc",
		"no-jira bump deps", "Dev", "dev@example.com")
	if err != nil {
		t.Fatal(err)
	}
	link, err := database.CreateOrUpdateCommitPush(db, commit, push, []string{database.ErrorNoIssueNumber})
	if err != nil {
		t.Fatal(err)
	}
	if !link.NoJira {
		t.Error("expected the no-jira tag to be detected")
	}
}

func TestCommitPushIgnoreCarryForward(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	first := testhelpers.CreatePush(t, db, "acme/api", "master", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")
	second := testhelpers.CreatePush(t, db, "acme/api", "master", "dddddddddddddddddddddddddddddddddddddddd", "api")

	commit, err := database.UpsertCommit(db, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"tidy things", "Dev", "dev@example.com")
	if err != nil {
		t.Fatal(err)
	}

	link, err := database.CreateOrUpdateCommitPush(db, commit, first, []string{database.ErrorNoIssueNumber})
	if err != nil {
		t.Fatal(err)
	}
	link.IgnoreErrors = true
	if err := db.Save(link).Error; err != nil {
		t.Fatal(err)
	}

	// a new link for the same commit on another push inherits the flag
	carried, err := database.CreateOrUpdateCommitPush(db, commit, second, []string{database.ErrorNoIssueNumber})
	if err != nil {
		t.Fatal(err)
	}
	if !carried.IgnoreErrors {
		t.Error("expected the ignore flag to carry forward")
	}
}

func TestCommitPushIgnoreClearedByChangedErrors(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")

	commit, err := database.UpsertCommit(db, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"tidy things", "Dev", "dev@example.com")
	if err != nil {
		t.Fatal(err)
	}

	link, err := database.CreateOrUpdateCommitPush(db, commit, push, []string{database.ErrorNoIssueNumber})
	if err != nil {
		t.Fatal(err)
	}
	link.IgnoreErrors = true
	if err := db.Save(link).Error; err != nil {
		t.Fatal(err)
	}

	// re-running with the same set keeps the override
	same, err := database.CreateOrUpdateCommitPush(db, commit, push, []string{database.ErrorNoIssueNumber})
	if err != nil {
		t.Fatal(err)
	}
	if !same.IgnoreErrors {
		t.Error("an unchanged defect set must keep the ignore flag")
	}

	// a different set on the existing link clears it
	changed, err := database.CreateOrUpdateCommitPush(db, commit, push, []string{database.ErrorIssueNotFound})
	if err != nil {
		t.Fatal(err)
	}
	if changed.IgnoreErrors {
		t.Error("a changed defect set must clear the ignore flag")
	}
}

func TestDestroyCommitPushesNotIn(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")

	var commitIDs []uint
	for _, sha := range []string{
		"1111111111111111111111111111111111111111",
		"2222222222222222222222222222222222222222",
		"3333333333333333333333333333333333333333",
	} {
		commit, err := database.UpsertCommit(db, sha, "STORY-1 work", "Dev", "dev@example.com")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := database.CreateOrUpdateCommitPush(db, commit, push, nil); err != nil {
			t.Fatal(err)
		}
		commitIDs = append(commitIDs, commit.ID)
	}

	if err := database.DestroyCommitPushesNotIn(db, push.ID, commitIDs[:1]); err != nil {
		t.Fatal(err)
	}
	links, err := database.CommitPushesForPush(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	// only the retained commit survives; the head commit link is destroyed too
	if len(links) != 1 || links[0].CommitID != commitIDs[0] {
		t.Fatalf("expected only the retained link, got %+v", links)
	}

	if err := database.DestroyCommitPushesNotIn(db, push.ID, nil); err != nil {
		t.Fatal(err)
	}
	links, err = database.CommitPushesForPush(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Fatalf("empty set should remove all links, got %d", len(links))
	}
}

func TestIssuePushMergedAndDestroy(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")

	kept := testhelpers.NewIssueBuilder("STORY-1").Create(t, db)
	merged := testhelpers.NewIssueBuilder("STORY-2").Create(t, db)
	stale := testhelpers.NewIssueBuilder("STORY-3").Create(t, db)

	for _, issue := range []*database.Issue{kept, merged, stale} {
		if _, err := database.CreateOrUpdateIssuePush(db, issue, push, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := database.MarkIssuePushesMerged(db, push.ID, []uint{merged.ID}); err != nil {
		t.Fatal(err)
	}
	if err := database.DestroyIssuePushesNotIn(db, push.ID, []uint{kept.ID, merged.ID}); err != nil {
		t.Fatal(err)
	}

	links, err := database.IssuePushesForPush(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	byKey := map[string]database.IssuePush{}
	for _, link := range links {
		byKey[link.Issue.Key] = link
	}
	if byKey["STORY-1"].Merged {
		t.Error("STORY-1 should not be merged")
	}
	if !byKey["STORY-2"].Merged {
		t.Error("STORY-2 should be merged")
	}
	if _, ok := byKey["STORY-3"]; ok {
		t.Error("STORY-3 link should be gone")
	}

	keys, err := database.IssueKeysForPush(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "STORY-1" || keys[1] != "STORY-2" {
		t.Errorf("IssueKeysForPush = %v", keys)
	}
}

func TestErrorCountsAndUnignoredCounts(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")

	bad := testhelpers.NewIssueBuilder("STORY-1").Create(t, db)
	ignored := testhelpers.NewIssueBuilder("STORY-2").Create(t, db)
	clean := testhelpers.NewIssueBuilder("STORY-3").Create(t, db)

	if _, err := database.CreateOrUpdateIssuePush(db, bad, push,
		[]string{database.ErrorWrongState, database.ErrorNoDeployDate}); err != nil {
		t.Fatal(err)
	}
	link, err := database.CreateOrUpdateIssuePush(db, ignored, push, []string{database.ErrorWrongState})
	if err != nil {
		t.Fatal(err)
	}
	link.IgnoreErrors = true
	if err := db.Save(link).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := database.CreateOrUpdateIssuePush(db, clean, push, []string{}); err != nil {
		t.Fatal(err)
	}

	count, err := database.CountIssuePushesWithUnignoredErrors(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("unignored count = %d, want 1", count)
	}

	counts, err := database.IssueErrorCountsForPush(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[database.ErrorWrongState] != 1 || counts[database.ErrorNoDeployDate] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
