package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Limits maps org limit names to their allocation.
type Limits map[string]LimitInfo

// LimitInfo is a single org limit.
type LimitInfo struct {
	Max       int `json:"Max"`
	Remaining int `json:"Remaining"`
}

// Used returns the consumed part of the allocation.
func (l LimitInfo) Used() int {
	return l.Max - l.Remaining
}

// Bulk returns the limits that govern bulk jobs, such as
// DailyBulkApiBatches.
func (l Limits) Bulk() Limits {
	out := make(Limits)
	for name, info := range l {
		if strings.Contains(name, "Bulk") {
			out[name] = info
		}
	}
	return out
}

// Limits fetches the org limits from the REST API of the same instance and
// version. The session is sent as a bearer token there.
func (c *Connection) Limits(ctx context.Context) (Limits, error) {
	headers := http.Header{"Accept": {"application/json"}}
	if c.session != nil {
		tok, err := c.session.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to get session token: %w", err)
		}
		headers.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	body, err := c.Get(ctx, fmt.Sprintf("%s/services/data/v%s/limits/", c.instanceURL, c.apiVersion), headers)
	if err != nil {
		return nil, err
	}

	var limits Limits
	if err := json.Unmarshal(body, &limits); err != nil {
		return nil, fmt.Errorf("failed to parse limits response: %w", err)
	}
	return limits, nil
}
