package services

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/pushgate/pushgate/internal/database"
)

// StatusPublisher publishes a commit status to the external host
type StatusPublisher interface {
	Publish(ctx context.Context, repoName, sha, statusContext, state, description, targetURL string) error
}

// StateDescriptions are the human-readable descriptions published alongside
// each status.
var StateDescriptions = map[database.PushStatus]string{
	database.PushStatusPending: "Verifying deploy readiness",
	database.PushStatusSuccess: "Ready to deploy",
	database.PushStatusFailure: "Deploy readiness checks failed",
}

// DefaultJobPriority orders reconciliation jobs in the queue
const DefaultJobPriority = 10

// Dispatcher submits pushes for asynchronous reconciliation and publishes
// the resulting verdict. Only pushes for the observed service have their
// status published externally.
type Dispatcher struct {
	db              *gorm.DB
	reconciler      *Reconciler
	publisher       StatusPublisher
	statusContext   string
	webServerURL    string
	observedService string
	maxAttempts     int
}

// NewDispatcher creates a dispatcher
func NewDispatcher(db *gorm.DB, reconciler *Reconciler, publisher StatusPublisher,
	statusContext, webServerURL, observedService string, maxAttempts int) *Dispatcher {
	return &Dispatcher{
		db:              db,
		reconciler:      reconciler,
		publisher:       publisher,
		statusContext:   statusContext,
		webServerURL:    webServerURL,
		observedService: observedService,
		maxAttempts:     maxAttempts,
	}
}

// SubmitPush marks the push pending, publishes the pending status for the
// observed service, and enqueues a reconciliation job carrying only the push
// identifier.
func (d *Dispatcher) SubmitPush(ctx context.Context, push *database.Push) (*database.Job, error) {
	if err := database.SetPushStatus(d.db, push, database.PushStatusPending); err != nil {
		return nil, err
	}

	if d.observes(push) {
		if err := d.publishStatus(ctx, push, database.PushStatusPending); err != nil {
			return nil, err
		}
	}

	job, err := database.EnqueueJob(d.db, push.ID, DefaultJobPriority, d.maxAttempts)
	if err != nil {
		return nil, err
	}
	log.Printf("Submitted push %d for processing (job %s)", push.ID, job.UUID)
	return job, nil
}

// ProcessPush is the job body: one reconciliation pass, then the terminal
// status publish. Any error requeues the whole job; reconciliation is
// idempotent so a redelivered job safely re-runs from scratch.
func (d *Dispatcher) ProcessPush(ctx context.Context, pushID uint) error {
	push, err := d.reconciler.Process(ctx, pushID)
	if err != nil {
		return fmt.Errorf("reconciliation of push %d failed: %w", pushID, err)
	}

	if !d.observes(push) {
		return nil
	}
	if err := d.publishStatus(ctx, push, push.Status); err != nil {
		return fmt.Errorf("publishing status of push %d failed: %w", pushID, err)
	}
	return nil
}

func (d *Dispatcher) observes(push *database.Push) bool {
	return push.Service.Name == d.observedService
}

func (d *Dispatcher) publishStatus(ctx context.Context, push *database.Push, status database.PushStatus) error {
	targetURL := fmt.Sprintf("%s/api/push/%s", d.webServerURL, push.HeadCommit.SHA)
	return d.publisher.Publish(ctx,
		push.Branch.Repository.Name,
		push.HeadCommit.SHA,
		d.statusContext,
		string(status),
		StateDescriptions[status],
		targetURL,
	)
}
