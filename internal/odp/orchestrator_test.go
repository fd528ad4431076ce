package odp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/odatalink/odatalink/internal/cache"
	"github.com/odatalink/odatalink/internal/logging"
	"github.com/odatalink/odatalink/internal/odata"
	"github.com/odatalink/odatalink/internal/transport"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type recordingClient struct {
	mu       sync.Mutex
	requests []*transport.Request
	respond  func(req *transport.Request) (*transport.Response, error)
}

func (c *recordingClient) SendRequest(_ context.Context, req *transport.Request) (*transport.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.respond(req)
}

func jsonResponse(status int, body string, header http.Header) *transport.Response {
	h := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range header {
		h[k] = v
	}
	return &transport.Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func TestExecuteInitialLoad(t *testing.T) {
	body := `{"d":{"results":[{"ID":1}],"__delta":"https://x/svc/Entity?!deltatoken='D1'"}}`
	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusOK, body, http.Header{"preference-applied": []string{"odata.track-changes"}}), nil
	}}
	o := NewOrchestrator(NewRequestFactory(), client, time.Second)

	result, err := o.ExecuteInitialLoad(context.Background(), "https://x/svc/Entity")
	if err != nil {
		t.Fatalf("ExecuteInitialLoad error: %v", err)
	}
	if result.DeltaToken != "'D1'" {
		t.Fatalf("DeltaToken = %q", result.DeltaToken)
	}
	if !result.PreferenceApplied {
		t.Fatalf("PreferenceApplied = false")
	}
	if result.HasMorePages || result.NextLink != "" {
		t.Fatalf("unexpected paging state: %+v", result)
	}
	if result.StatusCode != http.StatusOK || result.ResponseSizeBytes != len(body) {
		t.Fatalf("status/size = %d/%d", result.StatusCode, result.ResponseSizeBytes)
	}
	if result.Type != RequestInitialLoad || result.RequestID == "" {
		t.Fatalf("type/request id = %v/%q", result.Type, result.RequestID)
	}
	if len(client.requests) != 1 || !strings.Contains(client.requests[0].Header.Get("Prefer"), PreferTrackChanges) {
		t.Fatalf("unexpected requests: %+v", client.requests)
	}
}

func TestExecuteInitialLoadPreferenceNotApplied(t *testing.T) {
	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusOK, `{"d":{"results":[]}}`, nil), nil
	}}
	o := NewOrchestrator(nil, client, 0)
	result, err := o.ExecuteInitialLoad(context.Background(), "https://x/svc/Entity")
	if err != nil {
		t.Fatalf("ExecuteInitialLoad error: %v", err)
	}
	if result.PreferenceApplied {
		t.Fatalf("PreferenceApplied = true without header")
	}
	if result.DeltaToken != "" {
		t.Fatalf("DeltaToken = %q, want empty", result.DeltaToken)
	}
}

func TestExecuteDeltaFetchV4(t *testing.T) {
	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusOK, `{"value":[],"@odata.deltaLink":"https://x/svc/Entity?$deltatoken=N2"}`, nil), nil
	}}
	o := NewOrchestrator(NewRequestFactory(), client, time.Second)
	result, err := o.ExecuteDeltaFetch(context.Background(), "https://x/svc/Entity", "N1")
	if err != nil {
		t.Fatalf("ExecuteDeltaFetch error: %v", err)
	}
	if result.DeltaToken != "N2" || !result.PreferenceApplied {
		t.Fatalf("result = %+v", result)
	}
	if got := client.requests[0].URL; got != "https://x/svc/Entity?!deltatoken=N1&$format=json" {
		t.Fatalf("url = %q", got)
	}
}

func TestExecuteMalformedPayloadYieldsEmptyToken(t *testing.T) {
	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusOK, `{"d":{"__delta":`, nil), nil
	}}
	o := NewOrchestrator(NewRequestFactory(), client, 0)
	result, err := o.ExecuteDeltaFetch(context.Background(), "https://x/svc/Entity", "N1")
	if err != nil {
		t.Fatalf("ExecuteDeltaFetch error: %v", err)
	}
	if result.DeltaToken != "" || result.HasMorePages {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteNonSuccessStatus(t *testing.T) {
	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"error":{"message":"no auth"}}`, nil), nil
	}}
	o := NewOrchestrator(NewRequestFactory(), client, 0)
	result, err := o.ExecuteTermination(context.Background(), "https://x/svc/Entity")
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected StatusError 403, got %v", err)
	}
	if result == nil || result.StatusCode != http.StatusForbidden {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(client.requests[0].URL, "/TerminateDeltasForEntity") {
		t.Fatalf("url = %q", client.requests[0].URL)
	}
}

func TestExecuteTransportErrors(t *testing.T) {
	boom := errors.New("connection refused")
	client := transport.ClientFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, boom
	})
	o := NewOrchestrator(NewRequestFactory(), client, 0)
	if _, err := o.ExecuteDiscovery(context.Background(), "https://x/svc/Entity"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}

	slow := transport.ClientFunc(func(ctx context.Context, _ *transport.Request) (*transport.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o = NewOrchestrator(NewRequestFactory(), slow, 20*time.Millisecond)
	if _, err := o.ExecuteInitialLoad(ctx, "https://x/svc/Entity"); !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	if _, err := NewOrchestrator(nil, nil, 0).ExecuteInitialLoad(context.Background(), "https://x/svc/Entity"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestExecuteKeepsContextRequestID(t *testing.T) {
	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusOK, `{"value":[]}`, nil), nil
	}}
	o := NewOrchestrator(NewRequestFactory(), client, 0)
	ctx := logging.ContextWithRequestID(context.Background(), "req-42")
	result, err := o.ExecuteNextPage(ctx, "https://x/svc/Entity?$skiptoken=1")
	if err != nil {
		t.Fatalf("ExecuteNextPage error: %v", err)
	}
	if result.RequestID != "req-42" {
		t.Fatalf("RequestID = %q", result.RequestID)
	}
}

func TestExecuteLogsRequestAndCorrelationIDs(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusOK, `{"value":[]}`, nil), nil
	}}
	o := NewOrchestrator(NewRequestFactory(), client, 0)
	ctx := logging.ContextWithRequestID(context.Background(), "run-7")
	if _, err := o.ExecuteNextPage(ctx, "https://x/svc/Entity?$skiptoken=1"); err != nil {
		t.Fatalf("ExecuteNextPage error: %v", err)
	}
	sent := client.requests[0].Header.Get(HeaderCorrelationID)
	if sent == "" {
		t.Fatalf("missing %s header", HeaderCorrelationID)
	}
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected completion log entry")
	}
	if entry.Data[logging.FieldRequestID] != "run-7" || entry.Data[logging.FieldCorrelationID] != sent {
		t.Fatalf("log fields = %v, want request id run-7 and correlation id %s", entry.Data, sent)
	}
}

func TestExecuteAllPages(t *testing.T) {
	pages := map[string]string{
		"2": `{"d":{"results":[{"ID":2}],"__next":"https://x/svc/Entity?$skiptoken=3"}}`,
		"3": `{"d":{"results":[{"ID":3}],"__delta":"https://x/svc/Entity?!deltatoken=END"}}`,
	}
	client := &recordingClient{respond: func(req *transport.Request) (*transport.Response, error) {
		for token, body := range pages {
			if strings.Contains(req.URL, "$skiptoken="+token) {
				return jsonResponse(http.StatusOK, body, nil), nil
			}
		}
		return jsonResponse(http.StatusOK, `{"d":{"results":[{"ID":1}],"__next":"https://x/svc/Entity?$skiptoken=2"}}`,
			http.Header{"Preference-Applied": []string{"odata.track-changes, odata.maxpagesize=1"}}), nil
	}}
	o := NewOrchestrator(NewRequestFactory(WithPageSize(1)), client, 0)
	first, err := o.ExecuteInitialLoad(context.Background(), "https://x/svc/Entity")
	if err != nil {
		t.Fatalf("ExecuteInitialLoad error: %v", err)
	}
	if !first.HasMorePages {
		t.Fatalf("first page should have more pages")
	}

	records := 0
	last, err := o.ExecuteAllPages(context.Background(), first, func(page *OdpRequestResult) error {
		records += CountRecords(page.Payload)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteAllPages error: %v", err)
	}
	if records != 3 {
		t.Fatalf("records = %d, want 3", records)
	}
	if last.DeltaToken != "END" {
		t.Fatalf("final delta token = %q", last.DeltaToken)
	}
	if len(client.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(client.requests))
	}
}

func TestExecuteAllPagesStopsOnRepeatedLink(t *testing.T) {
	client := &recordingClient{respond: func(*transport.Request) (*transport.Response, error) {
		return jsonResponse(http.StatusOK, `{"value":[],"@odata.nextLink":"https://x/svc/Entity?$skiptoken=1"}`, nil), nil
	}}
	o := NewOrchestrator(NewRequestFactory(), client, 0)
	first, err := o.ExecuteDeltaFetch(context.Background(), "https://x/svc/Entity", "T")
	if err != nil {
		t.Fatalf("ExecuteDeltaFetch error: %v", err)
	}
	if _, err = o.ExecuteAllPages(context.Background(), first, func(*OdpRequestResult) error { return nil }); err == nil {
		t.Fatalf("expected repeated link error")
	}

	stop := errors.New("stop")
	if _, err = o.ExecuteAllPages(context.Background(), first, func(*OdpRequestResult) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestValidatePreferenceApplied(t *testing.T) {
	tests := []struct {
		name     string
		header   http.Header
		expected []string
		want     bool
	}{
		{"no expectations", nil, nil, true},
		{"canonical", http.Header{"Preference-Applied": {"odata.track-changes"}}, []string{PreferTrackChanges}, true},
		{"lowercase key", http.Header{"preference-applied": {"odata.maxpagesize=100, odata.track-changes"}}, []string{PreferTrackChanges}, true},
		{"mixed case token", http.Header{"PREFERENCE-APPLIED": {"OData.Track-Changes"}}, []string{PreferTrackChanges}, true},
		{"value ignored", http.Header{"Preference-Applied": {"odata.maxpagesize=100"}}, []string{"odata.maxpagesize=5000"}, true},
		{"missing", http.Header{"Preference-Applied": {"odata.maxpagesize=100"}}, []string{PreferTrackChanges}, false},
		{"absent header", http.Header{}, []string{PreferTrackChanges}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePreferenceApplied(tt.header, tt.expected...); got != tt.want {
				t.Fatalf("ValidatePreferenceApplied = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrchestratorTokenCache(t *testing.T) {
	client := &recordingClient{respond: func(req *transport.Request) (*transport.Response, error) {
		switch {
		case strings.Contains(req.URL, "TerminateDeltasFor"):
			return jsonResponse(http.StatusOK, `{"d":{}}`, nil), nil
		case strings.Contains(req.URL, "!deltatoken=D1"):
			return jsonResponse(http.StatusOK, `{"d":{"results":[],"__delta":"https://x/svc/Entity?!deltatoken=D2"}}`, nil), nil
		default:
			return jsonResponse(http.StatusOK, `{"d":{"results":[],"__delta":"https://x/svc/Entity?!deltatoken=D1"}}`,
				http.Header{"Preference-Applied": {"odata.track-changes"}}), nil
		}
	}}
	tokens := cache.NewDeltaTokenCache(time.Hour)
	o := NewOrchestrator(NewRequestFactory(), client, 0)
	o.SetTokenCache(tokens)
	ctx := context.Background()

	if _, err := o.ExecuteInitialLoad(ctx, "https://x/svc/Entity"); err != nil {
		t.Fatalf("ExecuteInitialLoad error: %v", err)
	}
	if got := tokens.Get("https://x/svc/Entity"); got != "D1" {
		t.Fatalf("cached token = %q, want D1", got)
	}

	result, err := o.ExecuteDeltaFetch(ctx, "https://x/svc/Entity", "")
	if err != nil {
		t.Fatalf("ExecuteDeltaFetch error: %v", err)
	}
	if !strings.Contains(client.requests[1].URL, "!deltatoken=D1") {
		t.Fatalf("delta fetch did not use cached token: %q", client.requests[1].URL)
	}
	if result.DeltaToken != "D2" || tokens.Get("https://x/svc/Entity") != "D2" {
		t.Fatalf("cache not advanced: result=%q", result.DeltaToken)
	}

	if _, err = o.ExecuteTermination(ctx, "https://x/svc/Entity"); err != nil {
		t.Fatalf("ExecuteTermination error: %v", err)
	}
	if got := tokens.Get("https://x/svc/Entity"); got != "" {
		t.Fatalf("token not evicted after termination: %q", got)
	}
}

func TestExecuteAllPagesRelativeNextLink(t *testing.T) {
	client := &recordingClient{respond: func(req *transport.Request) (*transport.Response, error) {
		if strings.Contains(req.URL, "$skiptoken=1000") {
			return jsonResponse(http.StatusOK, `{"value":[{"ID":2}],"@odata.deltaLink":"Entity?$deltatoken=D9"}`, nil), nil
		}
		return jsonResponse(http.StatusOK, `{"value":[{"ID":1}],"@odata.nextLink":"Entity?$skiptoken=1000"}`, nil), nil
	}}
	o := NewOrchestrator(NewRequestFactory(WithVersion(odata.V4)), client, 0)
	first, err := o.ExecuteInitialLoad(context.Background(), "https://x/svc/Entity")
	if err != nil {
		t.Fatalf("ExecuteInitialLoad error: %v", err)
	}
	if first.NextLink != "https://x/svc/Entity?$skiptoken=1000" {
		t.Fatalf("NextLink = %q", first.NextLink)
	}

	last, err := o.ExecuteAllPages(context.Background(), first, func(*OdpRequestResult) error { return nil })
	if err != nil {
		t.Fatalf("ExecuteAllPages error: %v", err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(client.requests))
	}
	if last.DeltaLink != "https://x/svc/Entity?$deltatoken=D9" || last.DeltaToken != "D9" {
		t.Fatalf("delta link/token = %q/%q", last.DeltaLink, last.DeltaToken)
	}
}

func TestResolveLink(t *testing.T) {
	cases := []struct {
		base, link, want string
	}{
		{"https://x/svc/Entity?$format=json", "", ""},
		{"https://x/svc/Entity", "https://y/other?$skiptoken=1", "https://y/other?$skiptoken=1"},
		{"https://x/svc/Entity?$format=json", "Entity?$skiptoken=5", "https://x/svc/Entity?$skiptoken=5"},
		{"https://x/svc/Entity", "/root/Entity?!deltatoken=A", "https://x/root/Entity?!deltatoken=A"},
	}
	for _, tc := range cases {
		if got := resolveLink(tc.base, tc.link); got != tc.want {
			t.Fatalf("resolveLink(%q, %q) = %q, want %q", tc.base, tc.link, got, tc.want)
		}
	}
}
