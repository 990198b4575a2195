package shopify

import (
	"context"
	"encoding/json"
)

// Paginator walks a cursor-paginated connection as an explicit state
// machine: one Execute per step, forward-only, single-consumer,
// non-restartable. A failed page fetch truncates the sequence instead of
// raising; the enclosing sync re-covers the gap on its next scheduled run.
// Cancellation is simply ceasing to call Next.
type Paginator struct {
	client    *Client
	query     string
	variables map[string]interface{}
	pageSize  int
	dataPath  []string

	cursor  string
	started bool
	done    bool
}

// Paginate prepares a paginator over the connection found at dataPath within
// the response data (e.g. "products"). The query must declare $first and
// $after variables.
func (c *Client) Paginate(query string, variables map[string]interface{}, pageSize int, dataPath ...string) *Paginator {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Paginator{
		client:    c,
		query:     query,
		variables: variables,
		pageSize:  pageSize,
		dataPath:  dataPath,
	}
}

// Next fetches the next page and returns its nodes. ok is false once the
// sequence is exhausted or a page fetch failed; after that Next keeps
// returning (nil, false) without issuing calls.
func (p *Paginator) Next(ctx context.Context) ([]json.RawMessage, bool) {
	for !p.done {
		if p.started {
			// Smooth traffic between page fetches.
			p.client.sleep(interPageDelay)
		}
		p.started = true

		vars := map[string]interface{}{}
		for k, v := range p.variables {
			vars[k] = v
		}
		vars["first"] = p.pageSize
		if p.cursor != "" {
			vars["after"] = p.cursor
		}

		resp, err := p.client.Execute(ctx, p.query, vars)
		if err != nil {
			p.client.logger.WithField("error", err.Error()).Error("pagination query failed")
			p.done = true
			return nil, false
		}
		if len(resp.Errors) > 0 {
			p.client.logger.WithField("error", resp.Errors[0].Message).Error("pagination query failed")
			p.done = true
			return nil, false
		}

		conn, err := walkToConnection(resp.Data, p.dataPath)
		if err != nil {
			p.client.logger.WithField("error", err.Error()).Error("pagination response malformed")
			p.done = true
			return nil, false
		}

		p.cursor = conn.PageInfo.EndCursor
		if !conn.PageInfo.HasNextPage {
			p.done = true
		}

		if len(conn.Edges) == 0 {
			// An empty intermediate page: keep walking.
			continue
		}

		nodes := make([]json.RawMessage, 0, len(conn.Edges))
		for _, edge := range conn.Edges {
			nodes = append(nodes, edge.Node)
		}
		return nodes, true
	}
	return nil, false
}

func walkToConnection(data json.RawMessage, path []string) (*connection, error) {
	current := data
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, err
		}
		current = obj[key]
	}
	var conn connection
	if err := json.Unmarshal(current, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}
