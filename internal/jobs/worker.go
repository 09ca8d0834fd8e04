// Package jobs runs the worker pool that drains the durable reconciliation
// job queue.
package jobs

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/pushgate/pushgate/internal/database"
)

// Handler executes one job: a reconciliation pass plus the status publish
type Handler interface {
	ProcessPush(ctx context.Context, pushID uint) error
}

// Notifier announces pushes whose job exhausted its retry budget
type Notifier interface {
	PushAbandoned(push *database.Push, lastError string)
}

// Worker polls the job table and processes jobs to completion, one at a time.
// Several workers may run concurrently; ClaimNextJob guarantees at most one
// running job per push.
type Worker struct {
	db           *gorm.DB
	handler      Handler
	notifier     Notifier
	pollInterval time.Duration
	baseDelay    time.Duration
}

// NewWorker creates a worker
func NewWorker(db *gorm.DB, handler Handler, notifier Notifier, pollInterval time.Duration) *Worker {
	return &Worker{
		db:           db,
		handler:      handler,
		notifier:     notifier,
		pollInterval: pollInterval,
		baseDelay:    5 * time.Second,
	}
}

// Start polls until stop closes, draining all due jobs on each tick
func (w *Worker) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain()
		case <-stop:
			log.Println("Job worker stopped")
			return
		}
	}
}

// drain processes due jobs until the queue is empty
func (w *Worker) drain() {
	for {
		job, err := database.ClaimNextJob(w.db, time.Now())
		if err != nil {
			log.Printf("Failed to claim job: %v", err)
			return
		}
		if job == nil {
			return
		}
		w.run(job)
	}
}

func (w *Worker) run(job *database.Job) {
	log.Printf("Processing job %s (push %d, attempt %d/%d)",
		job.UUID, job.PushID, job.Attempts, job.MaxAttempts)

	err := w.handler.ProcessPush(context.Background(), job.PushID)
	if err == nil {
		if err := database.CompleteJob(w.db, job); err != nil {
			log.Printf("Failed to complete job %s: %v", job.UUID, err)
		}
		return
	}

	log.Printf("Job %s failed: %v", job.UUID, err)
	abandoned, failErr := database.FailJob(w.db, job, err, w.retryDelay(job.Attempts))
	if failErr != nil {
		log.Printf("Failed to record job failure for %s: %v", job.UUID, failErr)
		return
	}
	if abandoned {
		w.abandonPush(job)
	}
}

// abandonPush surfaces a stuck push through its own status field instead of
// leaving it stranded in pending.
func (w *Worker) abandonPush(job *database.Job) {
	log.Printf("Job %s abandoned after %d attempts: %s", job.UUID, job.Attempts, job.LastError)

	push, err := database.FindPushByID(w.db, job.PushID)
	if err != nil {
		log.Printf("Failed to load abandoned push %d: %v", job.PushID, err)
		return
	}
	if err := database.SetPushStatus(w.db, push, database.PushStatusAbandoned); err != nil {
		log.Printf("Failed to mark push %d abandoned: %v", job.PushID, err)
		return
	}
	if w.notifier != nil {
		w.notifier.PushAbandoned(push, job.LastError)
	}
}

// retryDelay doubles per attempt from the base delay, capped at an hour
func (w *Worker) retryDelay(attempts int) time.Duration {
	delay := w.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay > time.Hour {
			return time.Hour
		}
	}
	return delay
}
