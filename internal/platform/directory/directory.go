// Package directory looks up worker membership in the external user
// directory service.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// JSONGetter performs an authenticated GET and decodes the JSON response.
// *oauth.Client implements it.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, out any) error
}

// Client lists the members of a tenant role.
type Client struct {
	baseURL string
	http    JSONGetter
	logger  *slog.Logger
}

// NewClient creates a directory client rooted at baseURL.
func NewClient(baseURL string, http JSONGetter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		logger:  logger.With(slog.String("component", "directory_client")),
	}
}

type member struct {
	UserID string `json:"user_id"`
	ID     string `json:"id"`
}

type membersResponse struct {
	Data []member `json:"data"`
}

// ListMembers returns the ids of the users holding role in tenantID, in the
// order the directory returns them, without duplicates.
func (c *Client) ListMembers(ctx context.Context, tenantID, role string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/int/tenants/%s/roles/%s/members",
		c.baseURL, url.PathEscape(tenantID), url.PathEscape(role))

	var resp membersResponse
	if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to list members of %s/%s: %w", tenantID, role, err)
	}

	seen := make(map[string]struct{}, len(resp.Data))
	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		id := m.UserID
		if id == "" {
			id = m.ID
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	c.logger.Debug("listed directory members",
		slog.String("tenant_id", tenantID),
		slog.String("role", role),
		slog.Int("count", len(ids)))
	return ids, nil
}
