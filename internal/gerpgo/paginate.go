package gerpgo

import "context"

// Pages is a lazy, finite, non-restartable cursor walk over one resource.
// It is not safe for concurrent use; each fetch loop owns its own Pages.
//
//	pages := client.FetchAll(endpoint, params)
//	for pages.Next(ctx) {
//		handle(pages.Page())
//	}
//	if err := pages.Err(); err != nil { ... }
//
// A terminal error from the executor ends the walk early; pages already
// yielded stay with the caller (partial progress is preserved, not rolled
// back).
type Pages struct {
	exec     Executor
	endpoint Endpoint
	params   map[string]any

	cursor  any
	page    *Page
	err     error
	started bool
	done    bool

	pageCount   int
	recordCount int
}

// FetchAll starts a cursor walk using any executor. The params map is
// copied per request, so callers may reuse it.
func FetchAll(exec Executor, endpoint Endpoint, params map[string]any) *Pages {
	return &Pages{exec: exec, endpoint: endpoint, params: params}
}

// FetchAll starts a cursor walk against the live client.
func (c *Client) FetchAll(endpoint Endpoint, params map[string]any) *Pages {
	return FetchAll(c, endpoint, params)
}

// Next advances to the next page, returning false when the sequence is
// exhausted or a terminal error occurred.
func (p *Pages) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}
	if p.started && (p.page == nil || !p.page.HasMore) {
		p.done = true
		return false
	}

	request := make(map[string]any, len(p.params)+1)
	for k, v := range p.params {
		request[k] = v
	}
	if p.cursor != nil {
		request["nextId"] = p.cursor
	}

	page, err := p.exec.Execute(ctx, p.endpoint, request)
	if err != nil {
		p.err = err
		p.done = true
		return false
	}

	p.started = true
	p.page = page
	p.cursor = page.NextID
	p.pageCount++
	p.recordCount += len(page.Records)
	return true
}

// Page returns the page yielded by the last successful Next.
func (p *Pages) Page() *Page { return p.page }

// Err returns the terminal error, if any, once Next has returned false.
func (p *Pages) Err() error { return p.err }

// Counts reports pages and records yielded so far, including before a
// terminal error.
func (p *Pages) Counts() (pages, records int) { return p.pageCount, p.recordCount }
