package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rules holds the deploy-readiness rule configuration loaded from the YAML
// rules file. It is read once at startup and treated as immutable afterwards.
type Rules struct {
	ProjectKeys                  []string            `yaml:"project_keys"`
	ValidStatuses                []string            `yaml:"valid_statuses"`
	ValidSubTaskStatuses         []string            `yaml:"valid_sub_task_statuses"`
	ValidPostDeployCheckStatuses []string            `yaml:"valid_post_deploy_check_statuses"`
	IgnoreCommitsWithMessages    []string            `yaml:"ignore_commits_with_messages"`
	AncestorBranches             map[string]string   `yaml:"ancestor_branches"`
	DeployTypesForRepos          map[string][]string `yaml:"deploy_types_for_repos"`

	ignorePatterns []*regexp.Regexp
}

// LoadRules reads and validates the rules file
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	rules := &Rules{}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks the rule set and compiles the commit-message ignore
// patterns. Invalid rules are fatal at startup.
func (r *Rules) Validate() error {
	if len(r.ProjectKeys) == 0 {
		return fmt.Errorf("must specify at least one project key")
	}
	if len(r.ValidStatuses) == 0 {
		return fmt.Errorf("must specify at least one valid issue status")
	}
	if len(r.ValidSubTaskStatuses) == 0 {
		return fmt.Errorf("must specify at least one valid sub-task status")
	}
	if len(r.AncestorBranches) == 0 {
		return fmt.Errorf("must specify at least one ancestor branch mapping")
	}
	for branch, ancestor := range r.AncestorBranches {
		if ancestor == "" {
			return fmt.Errorf("must specify an ancestor branch for %s", branch)
		}
	}

	r.ignorePatterns = r.ignorePatterns[:0]
	for _, pattern := range r.IgnoreCommitsWithMessages {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		r.ignorePatterns = append(r.ignorePatterns, re)
	}
	return nil
}

// AncestorBranch returns the configured ancestor ref for a branch name,
// falling back to the "default" mapping.
func (r *Rules) AncestorBranch(branchName string) string {
	if ancestor, ok := r.AncestorBranches[branchName]; ok {
		return ancestor
	}
	return r.AncestorBranches["default"]
}

// IgnoreCommitMessage reports whether a commit message matches one of the
// configured case-insensitive ignore patterns.
func (r *Rules) IgnoreCommitMessage(message string) bool {
	for _, re := range r.ignorePatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// DeployTypesForRepo returns the deploy types used when searching the issue
// tracker for in-flight issues relevant to a repository.
func (r *Rules) DeployTypesForRepo(repoName string) []string {
	return r.DeployTypesForRepos[repoName]
}
