package agentsvc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultAPIVersion is the agents API version sent with every request.
const DefaultAPIVersion = "2024-12-01-preview"

var errBadConnString = errors.New("invalid connection string")

// Project identifies an AI Foundry project reachable through the agents API.
type Project struct {
	Host           string
	SubscriptionID string
	ResourceGroup  string
	Name           string

	endpoint string
}

// ParseConnectionString accepts either the project connection string
// "<host>;<subscription>;<resource-group>;<project>" or a full https endpoint.
func ParseConnectionString(s string) (Project, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Project{}, ErrNotConfigured
	}

	if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return Project{}, fmt.Errorf("%w: %q is not a valid endpoint", errBadConnString, s)
		}
		return Project{Host: u.Host, endpoint: strings.TrimRight(s, "/")}, nil
	}

	parts := strings.Split(s, ";")
	if len(parts) != 4 {
		return Project{}, fmt.Errorf("%w: expected 4 ';'-separated fields, got %d", errBadConnString, len(parts))
	}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return Project{}, fmt.Errorf("%w: field %d is empty", errBadConnString, i+1)
		}
	}

	return Project{
		Host:           parts[0],
		SubscriptionID: parts[1],
		ResourceGroup:  parts[2],
		Name:           parts[3],
	}, nil
}

// Endpoint returns the base URL of the project's agents API.
func (p Project) Endpoint() string {
	if p.endpoint != "" {
		return p.endpoint
	}
	return fmt.Sprintf(
		"https://%s/agents/v1.0/subscriptions/%s/resourceGroups/%s/providers/Microsoft.MachineLearningServices/workspaces/%s",
		p.Host, p.SubscriptionID, p.ResourceGroup, p.Name,
	)
}
