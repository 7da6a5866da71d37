package gerpgo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor yields canned pages/errors in order and records the
// cursor each request carried.
type scriptedExecutor struct {
	pages   []*Page
	errs    []error
	cursors []any
	calls   int
}

func (s *scriptedExecutor) Execute(ctx context.Context, endpoint Endpoint, params map[string]any) (*Page, error) {
	s.cursors = append(s.cursors, params["nextId"])
	i := s.calls
	s.calls++
	if s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.pages[i], nil
}

func pageWithCursor(record string, cursor any) *Page {
	p := &Page{Records: []json.RawMessage{json.RawMessage(`"` + record + `"`)}, NextID: cursor}
	p.HasMore = cursor != nil
	return p
}

func TestFetchAllFollowsCursorInOrder(t *testing.T) {
	exec := &scriptedExecutor{
		pages: []*Page{
			pageWithCursor("p1", "a"),
			pageWithCursor("p2", "b"),
			pageWithCursor("p3", nil),
		},
		errs: []error{nil, nil, nil},
	}

	pages := FetchAll(exec, testEndpoint, map[string]any{"count": 100})
	var got []string
	for pages.Next(context.Background()) {
		var record string
		require.NoError(t, json.Unmarshal(pages.Page().Records[0], &record))
		got = append(got, record)
	}

	require.NoError(t, pages.Err())
	assert.Equal(t, []string{"p1", "p2", "p3"}, got)
	assert.Equal(t, []any{nil, "a", "b"}, exec.cursors, "each request carries the previous page's cursor")

	pageCount, recordCount := pages.Counts()
	assert.Equal(t, 3, pageCount)
	assert.Equal(t, 3, recordCount)

	// Non-restartable: the walk stays exhausted.
	assert.False(t, pages.Next(context.Background()))
}

func TestFetchAllStopsOnEmptyPage(t *testing.T) {
	exec := &scriptedExecutor{
		pages: []*Page{
			pageWithCursor("p1", "a"),
			{Records: nil, NextID: "b", HasMore: false},
		},
		errs: []error{nil, nil},
	}

	pages := FetchAll(exec, testEndpoint, nil)
	count := 0
	for pages.Next(context.Background()) {
		count++
	}
	require.NoError(t, pages.Err())
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, exec.calls)
}

func TestFetchAllSurfacesErrorAfterPartialProgress(t *testing.T) {
	fatal := &APIError{Kind: KindFatal, Endpoint: testEndpoint.Name, StatusCode: 400, Message: "rejected"}
	exec := &scriptedExecutor{
		pages: []*Page{pageWithCursor("p1", "a"), nil},
		errs:  []error{nil, fatal},
	}

	pages := FetchAll(exec, testEndpoint, nil)
	var got []string
	for pages.Next(context.Background()) {
		var record string
		require.NoError(t, json.Unmarshal(pages.Page().Records[0], &record))
		got = append(got, record)
	}

	assert.Equal(t, []string{"p1"}, got, "pages before the failure stay yielded")
	require.Error(t, pages.Err())
	assert.Equal(t, KindFatal, KindOf(pages.Err()))
	assert.Equal(t, 2, exec.calls, "a fatal error ends the walk immediately")

	pageCount, recordCount := pages.Counts()
	assert.Equal(t, 1, pageCount)
	assert.Equal(t, 1, recordCount)
}
