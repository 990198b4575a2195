package shopify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GraphQLResponse is the platform's GraphQL envelope. Data stays raw; each
// consumer decodes only the connection it asked for.
type GraphQLResponse struct {
	Data       json.RawMessage `json:"data"`
	Errors     []GraphQLError  `json:"errors"`
	Extensions *Extensions     `json:"extensions"`
}

type GraphQLError struct {
	Message string   `json:"message"`
	Path    []string `json:"path"`
}

type Extensions struct {
	Cost *QueryCost `json:"cost"`
}

type QueryCost struct {
	RequestedQueryCost float64        `json:"requestedQueryCost"`
	ActualQueryCost    float64        `json:"actualQueryCost"`
	ThrottleStatus     ThrottleStatus `json:"throttleStatus"`
}

type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// connection is the generic edges/pageInfo shape every paginated query
// resolves to once the data path is walked.
type connection struct {
	Edges []struct {
		Node json.RawMessage `json:"node"`
	} `json:"edges"`
	PageInfo PageInfo `json:"pageInfo"`
}

// ---- error taxonomy ----

// RateLimitedError is a 429: retryable after the mandated delay.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// ClientError is a non-429 4xx: the request itself is wrong, never retried.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Status, e.Body)
}

// PermissionDeniedError is a GraphQL-level access denial: retrying cannot
// help, the enclosing batch step aborts.
type PermissionDeniedError struct {
	Message string
}

func (e *PermissionDeniedError) Error() string {
	return "permission denied: " + e.Message
}

func isAccessDenied(msg string) bool {
	return strings.Contains(msg, "ACCESS_DENIED") || strings.Contains(msg, "not approved")
}
