package odp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odatalink/odatalink/internal/cache"
	"github.com/odatalink/odatalink/internal/logging"
	"github.com/odatalink/odatalink/internal/odata"
	"github.com/odatalink/odatalink/internal/transport"
	"github.com/odatalink/odatalink/internal/util"
	log "github.com/sirupsen/logrus"
)

// OdpRequestResult is the outcome of one ODP request. It is built fresh per
// request and drives the caller's next paging or delta step.
type OdpRequestResult struct {
	Type              RequestType
	Payload           []byte
	DeltaToken        string
	DeltaLink         string
	PreferenceApplied bool
	HasMorePages      bool
	NextLink          string
	StatusCode        int
	ResponseSizeBytes int
	ContentType       string
	RequestID         string
}

// Orchestrator executes factory-built requests and extracts delta state from
// the responses.
type Orchestrator struct {
	factory *RequestFactory
	client  transport.Client
	timeout time.Duration
	tokens  *cache.DeltaTokenCache
}

// NewOrchestrator creates an orchestrator. A timeout of 0 leaves the request
// bounded only by ctx and the client.
func NewOrchestrator(factory *RequestFactory, client transport.Client, timeout time.Duration) *Orchestrator {
	if factory == nil {
		factory = NewRequestFactory()
	}
	return &Orchestrator{factory: factory, client: client, timeout: timeout}
}

// SetTokenCache makes the orchestrator remember the latest delta token per
// entity set. Initial loads, delta fetches and their follow-up pages store into
// it; terminations evict from it.
func (o *Orchestrator) SetTokenCache(tokens *cache.DeltaTokenCache) {
	o.tokens = tokens
}

// Factory returns the request factory in use.
func (o *Orchestrator) Factory() *RequestFactory {
	return o.factory
}

// ExecuteInitialLoad fetches the first page of entityURL and opens a delta subscription.
func (o *Orchestrator) ExecuteInitialLoad(ctx context.Context, entityURL string) (*OdpRequestResult, error) {
	req, err := o.factory.CreateInitialLoadRequest(entityURL)
	if err != nil {
		return nil, err
	}
	result, err := o.execute(ctx, RequestInitialLoad, req, PreferTrackChanges)
	o.remember(entityURL, result)
	return result, err
}

// ExecuteDeltaFetch fetches the changes recorded since deltaToken. An empty
// deltaToken falls back to the cached token for entityURL, if any.
func (o *Orchestrator) ExecuteDeltaFetch(ctx context.Context, entityURL, deltaToken string) (*OdpRequestResult, error) {
	if deltaToken == "" && o.tokens != nil {
		deltaToken = o.tokens.Get(entityURL)
	}
	req, err := o.factory.CreateDeltaFetchRequest(entityURL, deltaToken)
	if err != nil {
		return nil, err
	}
	result, err := o.execute(ctx, RequestDeltaFetch, req)
	o.remember(entityURL, result)
	return result, err
}

// ExecuteNextPage follows a continuation link returned by a previous request.
func (o *Orchestrator) ExecuteNextPage(ctx context.Context, nextLink string) (*OdpRequestResult, error) {
	req, err := o.factory.CreateNextPageRequest(nextLink)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, RequestNextPage, req)
}

// ExecuteTermination ends delta tracking for the entity set behind entityURL.
func (o *Orchestrator) ExecuteTermination(ctx context.Context, entityURL string) (*OdpRequestResult, error) {
	req, err := o.factory.CreateTerminationRequest(entityURL)
	if err != nil {
		return nil, err
	}
	result, err := o.execute(ctx, RequestTermination, req)
	if err == nil && o.tokens != nil {
		o.tokens.Delete(entityURL)
	}
	return result, err
}

// ExecuteDiscovery lists the delta links the service holds for entityURL's entity set.
func (o *Orchestrator) ExecuteDiscovery(ctx context.Context, entityURL string) (*OdpRequestResult, error) {
	req, err := o.factory.CreateDiscoveryRequest(entityURL)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, RequestDiscovery, req)
}

// ExecuteAllPages hands first and every following page to fn until the
// service stops returning a next link. The final page carries the delta token.
func (o *Orchestrator) ExecuteAllPages(ctx context.Context, first *OdpRequestResult, fn func(*OdpRequestResult) error) (*OdpRequestResult, error) {
	if first == nil {
		return nil, fmt.Errorf("odp: first page is nil")
	}
	seen := make(map[string]struct{})
	page := first
	for {
		if err := fn(page); err != nil {
			return page, err
		}
		if !page.HasMorePages {
			return page, nil
		}
		if _, dup := seen[page.NextLink]; dup {
			return page, fmt.Errorf("odp: next link %q repeats", page.NextLink)
		}
		seen[page.NextLink] = struct{}{}
		if err := ctx.Err(); err != nil {
			return page, err
		}
		next, err := o.ExecuteNextPage(ctx, page.NextLink)
		if err != nil {
			return page, err
		}
		o.remember(page.NextLink, next)
		page = next
	}
}

func (o *Orchestrator) execute(ctx context.Context, kind RequestType, req *transport.Request, expected ...string) (*OdpRequestResult, error) {
	if o.client == nil {
		return nil, fmt.Errorf("odp %s: http client is nil", kind)
	}
	ctx, requestID := logging.EnsureRequestID(ctx)
	entry := logging.Entry(ctx).WithFields(log.Fields{
		logging.FieldCorrelationID: req.Header.Get(HeaderCorrelationID),
		"entity":                   entitySetOf(req.URL),
	})
	entry.Debugf("odp %s: GET %s", kind, util.StripQuery(req.URL))

	resp, err := transport.SendWithTimeout(ctx, o.client, req, o.timeout)
	if err != nil {
		entry.WithField("error", err).Warnf("odp %s failed", kind)
		return nil, fmt.Errorf("odp %s: %w", kind, err)
	}

	result := &OdpRequestResult{
		Type:              kind,
		Payload:           resp.Body,
		StatusCode:        resp.StatusCode,
		ResponseSizeBytes: len(resp.Body),
		ContentType:       resp.Header.Get("Content-Type"),
		RequestID:         requestID,
	}
	entry = entry.WithFields(log.Fields{"status": resp.StatusCode, "bytes": result.ResponseSizeBytes})
	if !resp.IsSuccess() {
		entry.Warnf("odp %s returned non-success status", kind)
		return result, fmt.Errorf("odp %s: %w", kind, transport.NewStatusError(resp))
	}

	result.PreferenceApplied = ValidatePreferenceApplied(resp.Header, expected...)
	if !result.PreferenceApplied {
		entry.WithField("preference_applied", resp.Header.Get(odata.HeaderPreferenceApplied)).
			Warnf("odp %s: service did not apply %s", kind, strings.Join(expected, ", "))
	}
	result.DeltaLink = resolveLink(req.URL, ExtractDeltaLink(resp.Body))
	result.DeltaToken = ExtractTokenFromDeltaURL(result.DeltaLink)
	result.NextLink = resolveLink(req.URL, ExtractNextLink(resp.Body))
	result.HasMorePages = result.NextLink != ""

	entry.WithFields(log.Fields{
		"delta_token": result.DeltaToken != "",
		"next_link":   result.HasMorePages,
	}).Infof("odp %s completed", kind)
	return result, nil
}

// ValidatePreferenceApplied reports whether the Preference-Applied header lists
// every expected preference token. The header name is matched
// case-insensitively, as are token names; values after '=' are ignored. With no
// expectations it always returns true.
func ValidatePreferenceApplied(header http.Header, expected ...string) bool {
	if len(expected) == 0 {
		return true
	}
	applied := make(map[string]struct{})
	for key, values := range header {
		if !strings.EqualFold(key, odata.HeaderPreferenceApplied) {
			continue
		}
		for _, value := range values {
			for _, token := range strings.Split(value, ",") {
				name, _, _ := strings.Cut(strings.TrimSpace(token), "=")
				if name != "" {
					applied[strings.ToLower(name)] = struct{}{}
				}
			}
		}
	}
	for _, want := range expected {
		name, _, _ := strings.Cut(want, "=")
		if _, ok := applied[strings.ToLower(strings.TrimSpace(name))]; !ok {
			return false
		}
	}
	return true
}

// remember caches the delta token of result under entityURL's entity set.
func (o *Orchestrator) remember(entityURL string, result *OdpRequestResult) {
	if o.tokens == nil || result == nil || result.DeltaToken == "" {
		return
	}
	o.tokens.Store(entityURL, result.DeltaToken)
}

func entitySetOf(rawURL string) string {
	components, err := util.ParseURL(rawURL)
	if err != nil {
		return ""
	}
	return components.EntitySet
}

// resolveLink makes a relative next or delta link (allowed in v4, sent by CAP
// services as "Entity?$skiptoken=...") absolute against the request URL.
func resolveLink(requestURL, link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	base, err := url.Parse(requestURL)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}
