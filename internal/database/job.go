package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobState is the lifecycle state of a reconciliation job
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	// JobStateAbandoned is terminal: the attempt budget is exhausted and the
	// job will not be retried automatically.
	JobStateAbandoned JobState = "abandoned"
)

// Job is one durable unit of work: a single reconciliation pass over one
// push. The payload is the push identifier, never the push object, so a
// redelivered job always reloads fresh state.
type Job struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UUID        string     `gorm:"size:36;uniqueIndex;not null" json:"uuid"`
	PushID      uint       `gorm:"not null;index" json:"push_id"`
	Priority    int        `gorm:"not null;default:0;index" json:"priority"`
	State       JobState   `gorm:"size:16;not null;default:'pending';index" json:"state"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null" json:"max_attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	RunAt       time.Time  `gorm:"index" json:"run_at"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// EnqueueJob adds a reconciliation job for a push
func EnqueueJob(db *gorm.DB, pushID uint, priority, maxAttempts int) (*Job, error) {
	job := &Job{
		UUID:        uuid.NewString(),
		PushID:      pushID,
		Priority:    priority,
		State:       JobStatePending,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now(),
	}
	if err := db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue job for push %d: %w", pushID, err)
	}
	return job, nil
}

// ClaimNextJob atomically claims the next due pending job, lowest priority
// value first, FIFO within a priority. A push that already has a running job
// is skipped, enforcing at most one concurrent reconciliation pass per push.
// Returns (nil, nil) when no job is due.
func ClaimNextJob(db *gorm.DB, now time.Time) (*Job, error) {
	job := &Job{}
	err := db.Transaction(func(tx *gorm.DB) error {
		running := tx.Model(&Job{}).Select("push_id").Where("state = ?", JobStateRunning)
		err := tx.Where("state = ? AND run_at <= ?", JobStatePending, now).
			Where("push_id NOT IN (?)", running).
			Order("priority asc, id asc").
			First(job).Error
		if err != nil {
			return err
		}

		// guarded update: a concurrent worker may have claimed it first
		res := tx.Model(&Job{}).
			Where("id = ? AND state = ?", job.ID, JobStatePending).
			Updates(map[string]interface{}{
				"state":     JobStateRunning,
				"locked_at": now,
				"attempts":  gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		job.State = JobStateRunning
		job.LockedAt = &now
		job.Attempts++
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a job done
func CompleteJob(db *gorm.DB, job *Job) error {
	err := db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"state":     JobStateDone,
		"locked_at": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.UUID, err)
	}
	job.State = JobStateDone
	job.LockedAt = nil
	return nil
}

// FailJob records a failed attempt. The job is rescheduled with the given
// delay until its attempt budget is exhausted, at which point it is
// abandoned. Returns true when the job was abandoned.
func FailJob(db *gorm.DB, job *Job, jobErr error, delay time.Duration) (bool, error) {
	job.LastError = jobErr.Error()

	if job.Attempts >= job.MaxAttempts {
		err := db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"state":      JobStateAbandoned,
			"last_error": job.LastError,
			"locked_at":  nil,
		}).Error
		if err != nil {
			return false, fmt.Errorf("failed to abandon job %s: %w", job.UUID, err)
		}
		job.State = JobStateAbandoned
		return true, nil
	}

	runAt := time.Now().Add(delay)
	err := db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"state":      JobStatePending,
		"last_error": job.LastError,
		"locked_at":  nil,
		"run_at":     runAt,
	}).Error
	if err != nil {
		return false, fmt.Errorf("failed to reschedule job %s: %w", job.UUID, err)
	}
	job.State = JobStatePending
	job.RunAt = runAt
	return false, nil
}
