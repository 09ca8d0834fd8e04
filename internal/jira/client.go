// Package jira implements the issue-tracker client against the JIRA REST
// API. Only the two endpoints the reconciler needs are covered: issue lookup
// by key and JQL search.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pushgate/pushgate/internal/services"
)

// Custom field identifiers, fixed by the tracker schema
const (
	fieldTargetedDeployDate    = "customfield_10600"
	fieldLongRunningMigration  = "customfield_10601"
	fieldSecretsModified       = "customfield_10602"
	fieldPostDeployCheckStatus = "customfield_12202"
	fieldDeployTypes           = "customfield_12501"
)

const searchPageSize = 100

// Client talks to one JIRA site
type Client struct {
	baseURL    string
	username   string
	token      string
	httpClient *http.Client
}

// NewClient creates a client authenticating with basic auth
func NewClient(baseURL, username, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FindByKey returns the issue with the given key, or (nil, nil) if the
// tracker has no such issue.
func (c *Client) FindByKey(ctx context.Context, key string) (*services.IssueData, error) {
	url := fmt.Sprintf("%s/rest/api/2/issue/%s", c.baseURL, key)
	body, status, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("issue lookup for %s returned status %d", key, status)
	}

	var payload issuePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode issue %s: %w", key, err)
	}
	return payload.toIssueData(), nil
}

// FindByQuery searches for issues matching the query via JQL
func (c *Client) FindByQuery(ctx context.Context, query services.IssueQuery) ([]services.IssueData, error) {
	request := map[string]interface{}{
		"jql":        BuildJQL(query),
		"maxResults": searchPageSize,
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	url := c.baseURL + "/rest/api/2/search"
	body, status, err := c.do(ctx, http.MethodPost, url, requestBody)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("issue search returned status %d", status)
	}

	var result struct {
		Issues []issuePayload `json:"issues"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode search result: %w", err)
	}

	issues := make([]services.IssueData, 0, len(result.Issues))
	for _, payload := range result.Issues {
		issues = append(issues, *payload.toIssueData())
	}
	return issues, nil
}

// BuildJQL renders the query for unrelated in-flight issues
func BuildJQL(query services.IssueQuery) string {
	quoted := make([]string, len(query.Statuses))
	for i, status := range query.Statuses {
		quoted[i] = `"` + strings.ReplaceAll(status, `"`, `\"`) + `"`
	}

	jql := fmt.Sprintf("status IN (%s) AND project IN (%s) AND %s IN (%s)",
		strings.Join(quoted, ", "),
		strings.ToUpper(strings.Join(query.Projects, ", ")),
		fieldDeployTypes,
		strings.Join(query.DeployTypes, ", "),
	)
	if len(query.ExcludeKeys) > 0 {
		jql += fmt.Sprintf(" AND key NOT IN (%s)", strings.Join(query.ExcludeKeys, ", "))
	}
	return jql
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	return data, resp.StatusCode, nil
}

type selectValue struct {
	Value string `json:"value"`
}

type issuePayload struct {
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Summary   string `json:"summary"`
	IssueType struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	Status struct {
		Name string `json:"name"`
	} `json:"status"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Parent *issuePayload `json:"parent"`

	TargetedDeployDate    string        `json:"customfield_10600"`
	LongRunningMigration  []selectValue `json:"customfield_10601"`
	SecretsModified       *selectValue  `json:"customfield_10602"`
	PostDeployCheckStatus *selectValue  `json:"customfield_12202"`
	DeployTypes           []selectValue `json:"customfield_12501"`
}

func (p *issuePayload) toIssueData() *services.IssueData {
	data := &services.IssueData{
		Key:     p.Key,
		Type:    p.Fields.IssueType.Name,
		Summary: p.Fields.Summary,
		Status:  p.Fields.Status.Name,
	}
	if p.Fields.Assignee != nil {
		data.AssigneeName = p.Fields.Assignee.DisplayName
	}
	if p.Fields.PostDeployCheckStatus != nil {
		data.PostDeployCheckStatus = p.Fields.PostDeployCheckStatus.Value
	}
	if p.Fields.SecretsModified != nil {
		data.SecretsModified = p.Fields.SecretsModified.Value
	}
	for _, v := range p.Fields.DeployTypes {
		data.DeployTypes = append(data.DeployTypes, v.Value)
	}
	data.LongRunningMigration = joinValues(p.Fields.LongRunningMigration)
	if p.Fields.TargetedDeployDate != "" {
		if date, err := time.Parse("2006-01-02", p.Fields.TargetedDeployDate); err == nil {
			data.TargetedDeployDate = &date
		}
	}
	if p.Fields.Parent != nil {
		data.Parent = p.Fields.Parent.toIssueData()
	}
	return data
}

func joinValues(values []selectValue) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Value
	}
	return strings.Join(parts, ", ")
}
