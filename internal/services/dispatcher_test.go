package services

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/pushgate/pushgate/internal/database"
	"github.com/pushgate/pushgate/internal/testhelpers"
)

type publishedStatus struct {
	repoName    string
	sha         string
	context     string
	state       string
	description string
	targetURL   string
}

type fakePublisher struct {
	published []publishedStatus
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, repoName, sha, statusContext, state, description, targetURL string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedStatus{
		repoName:    repoName,
		sha:         sha,
		context:     statusContext,
		state:       state,
		description: description,
		targetURL:   targetURL,
	})
	return nil
}

func newTestDispatcher(t *testing.T, db *gorm.DB, publisher StatusPublisher, observedService string) *Dispatcher {
	t.Helper()
	git := &fakeGit{}
	tracker := &fakeTracker{}
	reconciler := newTestReconciler(t, db, git, tracker)
	return NewDispatcher(db, reconciler, publisher,
		"deploy-readiness", "https://pushgate.example.com", observedService, 3)
}

func TestSubmitPushObservedService(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", headSHA, "api")
	publisher := &fakePublisher{}
	dispatcher := newTestDispatcher(t, db, publisher, "api")

	job, err := dispatcher.SubmitPush(context.Background(), push)
	if err != nil {
		t.Fatal(err)
	}
	if job.PushID != push.ID {
		t.Errorf("job push = %d, want %d", job.PushID, push.ID)
	}
	if job.State != database.JobStatePending {
		t.Errorf("job state = %s", job.State)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 published status, got %d", len(publisher.published))
	}
	got := publisher.published[0]
	if got.state != "pending" {
		t.Errorf("state = %s, want pending", got.state)
	}
	if got.repoName != "acme/api" || got.sha != headSHA {
		t.Errorf("published to %s@%s", got.repoName, got.sha)
	}
	if got.description != StateDescriptions[database.PushStatusPending] {
		t.Errorf("description = %q", got.description)
	}
	if got.targetURL != "https://pushgate.example.com/api/push/"+headSHA {
		t.Errorf("targetURL = %q", got.targetURL)
	}
}

func TestSubmitPushUnobservedServiceSkipsPublish(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", headSHA, "worker")
	publisher := &fakePublisher{}
	dispatcher := newTestDispatcher(t, db, publisher, "api")

	if _, err := dispatcher.SubmitPush(context.Background(), push); err != nil {
		t.Fatal(err)
	}
	if len(publisher.published) != 0 {
		t.Errorf("unobserved service must not publish, got %d", len(publisher.published))
	}
}

func TestProcessPushPublishesTerminalStatus(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", headSHA, "api")
	publisher := &fakePublisher{}
	dispatcher := newTestDispatcher(t, db, publisher, "api")

	if err := dispatcher.ProcessPush(context.Background(), push.ID); err != nil {
		t.Fatal(err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 published status, got %d", len(publisher.published))
	}
	if publisher.published[0].state != "success" {
		t.Errorf("state = %s, want success", publisher.published[0].state)
	}

	reloaded, err := database.FindPushByID(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != database.PushStatusSuccess {
		t.Errorf("push status = %s", reloaded.Status)
	}
}

func TestProcessPushUnobservedServiceSkipsPublish(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master", headSHA, "worker")
	publisher := &fakePublisher{}
	dispatcher := newTestDispatcher(t, db, publisher, "api")

	if err := dispatcher.ProcessPush(context.Background(), push.ID); err != nil {
		t.Fatal(err)
	}
	if len(publisher.published) != 0 {
		t.Errorf("unobserved service must not publish, got %d", len(publisher.published))
	}
}
