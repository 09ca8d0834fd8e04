package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// FindOrCreateUser looks a user up by name and email, creating it on demand
func FindOrCreateUser(db *gorm.DB, name, email string) (*User, error) {
	user := &User{}
	err := db.Where("name = ? AND email = ?", name, email).First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = &User{Name: name, Email: email}
		if err := db.Create(user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user %s: %w", name, err)
		}
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", name, err)
	}
	return user, nil
}

// FakeEmailFromName converts a tracker display name ("First Last") into a
// stable placeholder address so assignees without email stay unique.
func FakeEmailFromName(displayName string) string {
	parts := strings.Fields(strings.ToLower(displayName))
	if len(parts) == 0 {
		return "unknown@email.com"
	}
	return parts[0][:1] + parts[len(parts)-1] + "@email.com"
}

// UpsertCommit creates or updates a commit row by SHA. The message is
// truncated to the stored limit.
func UpsertCommit(db *gorm.DB, sha, message, authorName, authorEmail string) (*Commit, error) {
	author, err := FindOrCreateUser(db, authorName, authorEmail)
	if err != nil {
		return nil, err
	}

	if len(message) > MaxCommitMessageLength {
		message = message[:MaxCommitMessageLength]
	}

	commit := &Commit{}
	err = db.Where("sha = ?", sha).First(commit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		commit = &Commit{SHA: sha}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", sha, err)
	}
	commit.Message = message
	commit.AuthorID = author.ID
	if err := db.Save(commit).Error; err != nil {
		return nil, fmt.Errorf("failed to save commit %s: %w", sha, err)
	}
	return commit, nil
}

// UpsertBranch creates or updates a branch row within its repository
func UpsertBranch(db *gorm.DB, repoName, branchName string, authorID *uint) (*Branch, error) {
	repo := &Repository{}
	err := db.Where("name = ?", repoName).First(repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		repo = &Repository{Name: repoName}
		if err := db.Create(repo).Error; err != nil {
			return nil, fmt.Errorf("failed to create repository %s: %w", repoName, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load repository %s: %w", repoName, err)
	}

	branch := &Branch{}
	err = db.Where("repository_id = ? AND name = ?", repo.ID, branchName).First(branch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		branch = &Branch{RepositoryID: repo.ID, Name: branchName}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load branch %s: %w", branchName, err)
	}
	branch.AuthorID = authorID
	branch.GitUpdatedAt = time.Now()
	if err := db.Save(branch).Error; err != nil {
		return nil, fmt.Errorf("failed to save branch %s: %w", branchName, err)
	}
	branch.Repository = *repo
	return branch, nil
}

// CreatePushesForHead creates (or refreshes) one push per service for a head
// commit on a branch, linking the head commit. Pushes start out pending.
func CreatePushesForHead(db *gorm.DB, repoName, branchName, sha, message, authorName, authorEmail string) ([]Push, error) {
	var pushes []Push
	err := db.Transaction(func(tx *gorm.DB) error {
		commit, err := UpsertCommit(tx, sha, message, authorName, authorEmail)
		if err != nil {
			return err
		}
		branch, err := UpsertBranch(tx, repoName, branchName, &commit.AuthorID)
		if err != nil {
			return err
		}

		var services []Service
		if err := tx.Order("id asc").Find(&services).Error; err != nil {
			return fmt.Errorf("failed to load services: %w", err)
		}

		for _, service := range services {
			push := Push{}
			err := tx.Where("head_commit_id = ? AND branch_id = ? AND service_id = ?",
				commit.ID, branch.ID, service.ID).First(&push).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				push = Push{HeadCommitID: commit.ID, BranchID: branch.ID, ServiceID: service.ID}
			} else if err != nil {
				return fmt.Errorf("failed to load push: %w", err)
			}
			push.Status = PushStatusPending
			if err := tx.Save(&push).Error; err != nil {
				return fmt.Errorf("failed to save push: %w", err)
			}
			if _, err := CreateOrUpdateCommitPush(tx, commit, &push, nil); err != nil {
				return err
			}
			push.HeadCommit = *commit
			push.Branch = *branch
			push.Service = service
			pushes = append(pushes, push)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pushes, nil
}

// FindPushByID loads a push with its associations
func FindPushByID(db *gorm.DB, id uint) (*Push, error) {
	push := &Push{}
	err := db.Preload("HeadCommit").Preload("Branch").Preload("Branch.Repository").
		Preload("Service").First(push, id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load push %d: %w", id, err)
	}
	return push, nil
}

// FindPushesBySHA loads the pushes (one per service) whose head commit has
// the given hash.
func FindPushesBySHA(db *gorm.DB, sha string) ([]Push, error) {
	var pushes []Push
	err := db.Preload("HeadCommit").Preload("Branch").Preload("Branch.Repository").
		Preload("Service").
		Joins("JOIN commits ON commits.id = pushes.head_commit_id").
		Where("commits.sha = ?", sha).
		Order("pushes.id asc").
		Find(&pushes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pushes for %s: %w", sha, err)
	}
	return pushes, nil
}

// SetPushStatus persists a status transition
func SetPushStatus(db *gorm.DB, push *Push, status PushStatus) error {
	push.Status = status
	if err := db.Model(&Push{}).Where("id = ?", push.ID).Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update push status: %w", err)
	}
	return nil
}
