package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pushgate/pushgate/internal/database"
	"github.com/pushgate/pushgate/internal/testhelpers"
)

type fakeHandler struct {
	errs  []error
	calls int
}

func (f *fakeHandler) ProcessPush(_ context.Context, _ uint) error {
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

type fakeNotifier struct {
	abandoned []string
	lastError string
}

func (f *fakeNotifier) PushAbandoned(push *database.Push, lastError string) {
	f.abandoned = append(f.abandoned, push.String())
	f.lastError = lastError
}

func TestDrainCompletesJob(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")
	job, err := database.EnqueueJob(db, push.ID, 10, 3)
	if err != nil {
		t.Fatal(err)
	}

	handler := &fakeHandler{}
	worker := NewWorker(db, handler, nil, time.Second)
	worker.drain()

	if handler.calls != 1 {
		t.Errorf("handler calls = %d, want 1", handler.calls)
	}
	var stored database.Job
	if err := db.First(&stored, job.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.State != database.JobStateDone {
		t.Errorf("job state = %s, want done", stored.State)
	}
}

func TestDrainReschedulesFailedJob(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")
	job, err := database.EnqueueJob(db, push.ID, 10, 3)
	if err != nil {
		t.Fatal(err)
	}

	handler := &fakeHandler{errs: []error{errors.New("tracker unavailable")}}
	worker := NewWorker(db, handler, nil, time.Second)
	worker.baseDelay = time.Minute // keep the retry out of this drain
	worker.drain()

	if handler.calls != 1 {
		t.Errorf("handler calls = %d, want 1", handler.calls)
	}

	var stored database.Job
	if err := db.First(&stored, job.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.State != database.JobStatePending {
		t.Errorf("job state = %s, want pending", stored.State)
	}
	if stored.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", stored.Attempts)
	}
	if stored.LastError != "tracker unavailable" {
		t.Errorf("last_error = %q", stored.LastError)
	}

	reloaded, err := database.FindPushByID(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status == database.PushStatusAbandoned {
		t.Error("push must not be abandoned before the budget is spent")
	}
}

func TestDrainAbandonsExhaustedJob(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	push := testhelpers.CreatePush(t, db, "acme/api", "master",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "api")
	job, err := database.EnqueueJob(db, push.ID, 10, 2)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("tracker unavailable")
	handler := &fakeHandler{errs: []error{boom, boom}}
	notifier := &fakeNotifier{}
	worker := NewWorker(db, handler, notifier, time.Second)
	worker.baseDelay = 0
	worker.drain()

	var stored database.Job
	if err := db.First(&stored, job.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.State != database.JobStateAbandoned {
		t.Errorf("job state = %s, want abandoned", stored.State)
	}

	reloaded, err := database.FindPushByID(db, push.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != database.PushStatusAbandoned {
		t.Errorf("push status = %s, want abandoned", reloaded.Status)
	}

	if len(notifier.abandoned) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.abandoned))
	}
	if notifier.lastError != "tracker unavailable" {
		t.Errorf("notified error = %q", notifier.lastError)
	}
}

func TestRetryDelay(t *testing.T) {
	worker := NewWorker(nil, nil, nil, time.Second)
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{5, 80 * time.Second},
		{20, time.Hour},
	}
	for _, tc := range cases {
		if got := worker.retryDelay(tc.attempts); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestStartStops(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	worker := NewWorker(db, &fakeHandler{}, nil, time.Millisecond)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		worker.Start(stop)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
