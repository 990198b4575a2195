package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// readyLimiter never blocks; a closed channel yields immediately.
func readyLimiter() <-chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.delays = append(s.delays, d)
}

func newTestClient(serverURL string) (*Client, *sleepRecorder) {
	rec := &sleepRecorder{}
	return &Client{
		endpoint:    serverURL,
		accessToken: "test-token",
		http:        &http.Client{},
		limiter:     readyLimiter(),
		logger:      testLogger(),
		sleep:       rec.sleep,
	}, rec
}

func TestExecuteRetriesTransientErrorsWithBackoff(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer server.Close()

	client, rec := newTestClient(server.URL)
	resp, err := client.Execute(context.Background(), "query { ok }", nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if resp.Data == nil {
		t.Fatal("expected data in response")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), rec.delays)
	}
	for i, d := range want {
		if rec.delays[i] != d {
			t.Fatalf("sleep %d: want %v, got %v", i, d, rec.delays[i])
		}
	}
}

func TestExecuteSleepsRetryAfterOn429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client, rec := newTestClient(server.URL)
	if _, err := client.Execute(context.Background(), "query { ok }", nil); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 7*time.Second {
		t.Fatalf("expected one 7s sleep, got %v", rec.delays)
	}
}

func TestExecuteUsesDefaultDelayWithoutRetryAfter(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client, rec := newTestClient(server.URL)
	if _, err := client.Execute(context.Background(), "query { ok }", nil); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != defaultRateDelay {
		t.Fatalf("expected one %v sleep, got %v", defaultRateDelay, rec.delays)
	}
}

func TestExecuteAbortsOnClientError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("forbidden"))
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	_, err := client.Execute(context.Background(), "query { ok }", nil)
	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if ce.Status != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", ce.Status)
	}
	if calls != 1 {
		t.Fatalf("client error must not be retried, got %d calls", calls)
	}
}

func TestExecuteAbortsOnAccessDenied(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"data":null,"errors":[{"message":"ACCESS_DENIED: app is not approved"}]}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	_, err := client.Execute(context.Background(), "query { ok }", nil)
	var pd *PermissionDeniedError
	if !errors.As(err, &pd) {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("access denial must not be retried, got %d calls", calls)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	if _, err := client.Execute(context.Background(), "query { ok }", nil); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if calls != maxRetries+1 {
		t.Fatalf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestExecuteShedsLoadOnLowCredit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{},"extensions":{"cost":{"throttleStatus":{"maximumAvailable":1000,"currentlyAvailable":100,"restoreRate":50}}}}`))
	}))
	defer server.Close()

	client, rec := newTestClient(server.URL)
	if _, err := client.Execute(context.Background(), "query { ok }", nil); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != lowCreditDelay {
		t.Fatalf("expected one %v low-credit sleep, got %v", lowCreditDelay, rec.delays)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, maxBackoff},
		{10, maxBackoff},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: want %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func paginationPage(ids []string, hasNext bool, cursor string) string {
	type edge struct {
		Node map[string]string `json:"node"`
	}
	edges := make([]edge, 0, len(ids))
	for _, id := range ids {
		edges = append(edges, edge{Node: map[string]string{"id": id}})
	}
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"things": map[string]interface{}{
				"edges": edges,
				"pageInfo": map[string]interface{}{
					"hasNextPage": hasNext,
					"endCursor":   cursor,
				},
			},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestPaginatorWalksAllPagesAndStops(t *testing.T) {
	var calls int
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]interface{} `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if after, ok := req.Variables["after"].(string); ok {
			cursors = append(cursors, after)
		} else {
			cursors = append(cursors, "")
		}

		calls++
		switch calls {
		case 1:
			w.Write([]byte(paginationPage([]string{"a", "b"}, true, "cur1")))
		case 2:
			w.Write([]byte(paginationPage([]string{"c"}, true, "cur2")))
		default:
			w.Write([]byte(paginationPage([]string{"d"}, false, "cur3")))
		}
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	pages := client.Paginate("query($first: Int, $after: String) { things }", nil, 2, "things")

	var pageSizes []int
	for {
		nodes, ok := pages.Next(context.Background())
		if !ok {
			break
		}
		pageSizes = append(pageSizes, len(nodes))
	}

	if calls != 3 {
		t.Fatalf("expected exactly 3 page fetches, got %d", calls)
	}
	if len(pageSizes) != 3 || pageSizes[0] != 2 || pageSizes[1] != 1 || pageSizes[2] != 1 {
		t.Fatalf("unexpected page sizes %v", pageSizes)
	}
	wantCursors := []string{"", "cur1", "cur2"}
	for i, want := range wantCursors {
		if cursors[i] != want {
			t.Fatalf("call %d: want cursor %q, got %q", i+1, want, cursors[i])
		}
	}

	// Exhausted: no further calls.
	if nodes, ok := pages.Next(context.Background()); ok || nodes != nil {
		t.Fatal("exhausted paginator must keep returning (nil, false)")
	}
	if calls != 3 {
		t.Fatalf("exhausted paginator issued another call, total %d", calls)
	}
}

func TestPaginatorTruncatesOnFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(paginationPage([]string{"a"}, true, "cur1")))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	pages := client.Paginate("query($first: Int, $after: String) { things }", nil, 10, "things")

	if _, ok := pages.Next(context.Background()); !ok {
		t.Fatal("expected first page")
	}
	if nodes, ok := pages.Next(context.Background()); ok || nodes != nil {
		t.Fatal("failed page fetch must truncate the sequence, not raise")
	}
	if nodes, ok := pages.Next(context.Background()); ok || nodes != nil {
		t.Fatal("truncated paginator must stay done")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestPaginatorSkipsEmptyIntermediatePages(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			w.Write([]byte(paginationPage(nil, true, "cur1")))
		default:
			w.Write([]byte(paginationPage([]string{"a"}, false, "cur2")))
		}
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	pages := client.Paginate("query($first: Int, $after: String) { things }", nil, 10, "things")

	nodes, ok := pages.Next(context.Background())
	if !ok || len(nodes) != 1 {
		t.Fatalf("expected one node after skipping empty page, got %v ok=%v", nodes, ok)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestMutateVariantPriceRejectsUserErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"productVariantUpdate":{"productVariant":null,"userErrors":[{"field":["price"],"message":"Price must be positive"}]}}}`))
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	err := client.MutateVariantPrice(context.Background(), "gid://shopify/ProductVariant/1", decimal.RequireFromString("10.00"))
	if err == nil {
		t.Fatal("expected userErrors to surface as an error")
	}
}
