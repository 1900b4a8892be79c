// Package directory implements the identity lookups the performer resolver
// needs, backed by the external accounts service. Account and group data is
// owned elsewhere; this client only answers the two synchronous questions the
// engine asks.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPDirectory resolves identity lookups against the accounts service HTTP
// API. Lookups run inside the workflow lock, so the client timeout is kept
// short.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory creates a directory client for the given base URL.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// AccountOwner returns the owning user of an account.
func (d *HTTPDirectory) AccountOwner(ctx context.Context, accountID string) (string, error) {
	endpoint := d.baseURL + "/accounts/" + url.PathEscape(accountID) + "/owner"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build account owner request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("account owner lookup for %s: %w", accountID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("account owner lookup for %s: unexpected status %d", accountID, resp.StatusCode)
	}

	var body struct {
		UserID string `json:"user_id"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode account owner response: %w", err)
	}

	return body.UserID, nil
}

// IsGroupMember reports whether the user belongs to the group. A 404 from
// the accounts service means not a member.
func (d *HTTPDirectory) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	endpoint := d.baseURL + "/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build group membership request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("group membership lookup for %s: %w", groupID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("group membership lookup for %s: unexpected status %d", groupID, resp.StatusCode)
	}
}

// Static is a fixed in-memory directory for development and tests.
type Static struct {
	Owners  map[string]string
	Members map[string]map[string]bool // groupID -> userID set
}

func (s *Static) AccountOwner(_ context.Context, accountID string) (string, error) {
	owner, ok := s.Owners[accountID]
	if !ok {
		return "", fmt.Errorf("no owner known for account %s", accountID)
	}

	return owner, nil
}

func (s *Static) IsGroupMember(_ context.Context, groupID, userID string) (bool, error) {
	return s.Members[groupID][userID], nil
}
