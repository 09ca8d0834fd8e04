package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WEB_SERVER_URL", "https://pushgate.example.com")
	t.Setenv("JIRA_BASE_URL", "https://example.atlassian.net")
	t.Setenv("JIRA_TOKEN", "jira-token")
	t.Setenv("GITHUB_TOKEN", "github-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d", cfg.HTTPPort)
	}
	if cfg.ObservedService != "web" {
		t.Errorf("ObservedService = %s", cfg.ObservedService)
	}
	if cfg.StatusContext != "pushgate/deploy-readiness" {
		t.Errorf("StatusContext = %s", cfg.StatusContext)
	}
	if cfg.WorkerCount != 1 {
		t.Errorf("WorkerCount = %d", cfg.WorkerCount)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.JobMaxAttempts != 10 {
		t.Errorf("JobMaxAttempts = %d", cfg.JobMaxAttempts)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("OBSERVED_SERVICE", "api")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("POLL_INTERVAL_SECONDS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d", cfg.HTTPPort)
	}
	if cfg.ObservedService != "api" {
		t.Errorf("ObservedService = %s", cfg.ObservedService)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d", cfg.WorkerCount)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	cases := []string{"WEB_SERVER_URL", "JIRA_BASE_URL", "JIRA_TOKEN", "GITHUB_TOKEN"}
	for _, missing := range cases {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(missing, "")
			if _, err := Load(); err == nil {
				t.Errorf("expected an error without %s", missing)
			}
		})
	}
}

func TestLoadRejectsInvalidWorkerCount(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_COUNT", "0")
	if _, err := Load(); err == nil {
		t.Error("expected an error for WORKER_COUNT=0")
	}
}
