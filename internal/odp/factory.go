// Package odp shapes and executes SAP Operational Data Provisioning requests:
// initial loads with change tracking, delta fetches, paging, delta termination
// and delta-link discovery over OData v2 (with a v4 fallback).
package odp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/odatalink/odatalink/internal/config"
	"github.com/odatalink/odatalink/internal/logging"
	"github.com/odatalink/odatalink/internal/misc"
	"github.com/odatalink/odatalink/internal/odata"
	"github.com/odatalink/odatalink/internal/transport"
	"github.com/odatalink/odatalink/internal/util"
	"golang.org/x/oauth2"
)

// Prefer directives.
const (
	PreferTrackChanges = "odata.track-changes"
	PreferMaxPageSize  = "odata.maxpagesize"
)

// HeaderCorrelationID carries a per-request UUID for tracing on the SAP side.
const HeaderCorrelationID = logging.HeaderCorrelationID

// Function-import prefixes SAP generates for ODP entity sets.
const (
	terminationPrefix = "TerminateDeltasFor"
	discoveryPrefix   = "DeltaLinksOf"
	metadataSegment   = "$metadata"
)

// RequestType identifies the ODP operation a request performs.
type RequestType int

const (
	RequestInitialLoad RequestType = iota
	RequestDeltaFetch
	RequestNextPage
	RequestTermination
	RequestDiscovery
	RequestMetadata
)

// String returns the log name of the request type.
func (t RequestType) String() string {
	switch t {
	case RequestInitialLoad:
		return "initial_load"
	case RequestDeltaFetch:
		return "delta_fetch"
	case RequestNextPage:
		return "next_page"
	case RequestTermination:
		return "termination"
	case RequestDiscovery:
		return "discovery"
	case RequestMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// RequestFactory builds protocol-correct ODP requests. It is safe for
// concurrent use once configured.
type RequestFactory struct {
	version      odata.Version
	pageSize     int
	jsonFormat   bool
	tokenSource  oauth2.TokenSource
	extraHeaders map[string]string
	newID        func() string
}

// FactoryOption configures a RequestFactory.
type FactoryOption func(*RequestFactory)

// WithVersion selects the OData protocol version. Defaults to odata.V2.
func WithVersion(v odata.Version) FactoryOption {
	return func(f *RequestFactory) { f.version = v }
}

// WithPageSize sets the odata.maxpagesize hint. 0 omits the hint.
func WithPageSize(n int) FactoryOption {
	return func(f *RequestFactory) { f.pageSize = n }
}

// WithJSONFormat toggles JSON responses. When false, Accept is XML and
// $format=json is not appended.
func WithJSONFormat(enabled bool) FactoryOption {
	return func(f *RequestFactory) { f.jsonFormat = enabled }
}

// WithTokenSource authenticates every request with tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) FactoryOption {
	return func(f *RequestFactory) { f.tokenSource = ts }
}

// WithExtraHeaders adds headers (e.g. sap-client) the protocol does not set itself.
func WithExtraHeaders(headers map[string]string) FactoryOption {
	return func(f *RequestFactory) { f.extraHeaders = headers }
}

// NewRequestFactory creates a v2 JSON factory with the default page size and no auth.
func NewRequestFactory(opts ...FactoryOption) *RequestFactory {
	f := &RequestFactory{
		version:    odata.V2,
		pageSize:   config.DefaultPageSize,
		jsonFormat: true,
		newID:      logging.NewCorrelationID,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewRequestFactoryFromConfig creates a factory from the odp config section.
func NewRequestFactoryFromConfig(cfg config.ODPConfig, opts ...FactoryOption) *RequestFactory {
	version := odata.V2
	if cfg.UseV4 {
		version = odata.V4
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	base := []FactoryOption{
		WithVersion(version),
		WithPageSize(pageSize),
		WithJSONFormat(cfg.WantsJSON()),
		WithExtraHeaders(cfg.Headers),
	}
	return NewRequestFactory(append(base, opts...)...)
}

// Version returns the protocol version requests are shaped for.
func (f *RequestFactory) Version() odata.Version {
	return f.version
}

// CreateInitialLoadRequest requests the first page of a full extraction and
// asks the service to start tracking changes.
func (f *RequestFactory) CreateInitialLoadRequest(entityURL string) (*transport.Request, error) {
	return f.build(RequestInitialLoad, entityURL)
}

// CreateDeltaFetchRequest requests the changes since deltaToken. An empty token
// fetches entityURL as given, which lets callers pass a full delta link.
func (f *RequestFactory) CreateDeltaFetchRequest(entityURL, deltaToken string) (*transport.Request, error) {
	target := entityURL
	if deltaToken != "" {
		// build adds $format=json only in JSON mode.
		target = util.AppendQuery(util.StripQuery(entityURL), deltaTokenV2+deltaToken)
	}
	return f.build(RequestDeltaFetch, target)
}

// CreateNextPageRequest follows a __next / @odata.nextLink continuation.
func (f *RequestFactory) CreateNextPageRequest(nextLink string) (*transport.Request, error) {
	return f.build(RequestNextPage, nextLink)
}

// CreateTerminationRequest stops delta tracking for the entity set behind
// entityURL by calling TerminateDeltasFor<EntitySet>. A URL already naming the
// function import is used as is.
func (f *RequestFactory) CreateTerminationRequest(entityURL string) (*transport.Request, error) {
	target, err := functionImportURL(entityURL, terminationPrefix)
	if err != nil {
		return nil, err
	}
	return f.build(RequestTermination, target)
}

// CreateDiscoveryRequest lists the open delta links of the entity set behind
// entityURL through DeltaLinksOf<EntitySet>.
func (f *RequestFactory) CreateDiscoveryRequest(entityURL string) (*transport.Request, error) {
	target, err := functionImportURL(entityURL, discoveryPrefix)
	if err != nil {
		return nil, err
	}
	return f.build(RequestDiscovery, target)
}

// CreateMetadataRequest requests the EDMX document of the service rooted at serviceURL.
func (f *RequestFactory) CreateMetadataRequest(serviceURL string) (*transport.Request, error) {
	target := util.StripQuery(serviceURL)
	if !strings.HasSuffix(strings.TrimRight(target, "/"), "/"+metadataSegment) {
		target = util.JoinPath(target, metadataSegment)
	}
	return f.build(RequestMetadata, target)
}

func (f *RequestFactory) build(kind RequestType, target string) (*transport.Request, error) {
	if err := util.ValidateHTTPURL("url", target); err != nil {
		return nil, fmt.Errorf("odp %s request: %w", kind, err)
	}
	if kind != RequestMetadata && f.jsonFormat {
		target = EnsureJSONFormat(target)
	}

	req := transport.NewRequest(http.MethodGet, target, nil)
	f.applyVersionHeaders(req.Header, kind)
	if prefer := f.preferences(kind); len(prefer) > 0 {
		req.Header.Set(odata.HeaderPrefer, strings.Join(prefer, ", "))
	}
	req.Header.Set(HeaderCorrelationID, f.newID())
	for key, value := range f.extraHeaders {
		misc.EnsureHeader(req.Header, nil, key, value)
	}

	if f.tokenSource != nil {
		tok, err := f.tokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("odp %s request: obtain token: %w", kind, err)
		}
		req.Header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}
	return req, nil
}

func (f *RequestFactory) applyVersionHeaders(h http.Header, kind RequestType) {
	wantJSON := f.jsonFormat && kind != RequestMetadata
	if f.version == odata.V4 {
		h.Set(odata.HeaderODataVersion, odata.V4.String())
		h.Set(odata.HeaderODataMaxVersion, odata.V4.String())
		if wantJSON {
			h.Set(odata.HeaderAccept, odata.ContentTypeJSONMinimalV4)
		} else {
			h.Set(odata.HeaderAccept, odata.ContentTypeXML)
		}
		return
	}
	h.Set(odata.HeaderDataServiceVersion, odata.V2.String())
	h.Set(odata.HeaderMaxDataServiceVersion, odata.V2.String())
	if wantJSON {
		h.Set(odata.HeaderAccept, odata.ContentTypeJSONVerbose)
	} else {
		h.Set(odata.HeaderAccept, odata.ContentTypeXML)
	}
}

// preferences lists the Prefer directives for kind. Only initial loads ask for
// change tracking; only data requests carry a page size.
func (f *RequestFactory) preferences(kind RequestType) []string {
	var prefer []string
	if kind == RequestInitialLoad {
		prefer = append(prefer, PreferTrackChanges)
	}
	switch kind {
	case RequestInitialLoad, RequestDeltaFetch, RequestNextPage:
		if f.pageSize > 0 {
			prefer = append(prefer, PreferMaxPageSize+"="+strconv.Itoa(f.pageSize))
		}
	}
	return prefer
}

// functionImportURL maps .../Service/EntitySet to .../Service/<prefix>EntitySet.
func functionImportURL(entityURL, prefix string) (string, error) {
	components, err := util.ParseURL(entityURL)
	if err != nil {
		return "", err
	}
	if components.EntitySet == "" {
		return "", fmt.Errorf("url %q does not name an entity set", entityURL)
	}
	if strings.HasPrefix(components.EntitySet, prefix) {
		return util.StripQuery(entityURL), nil
	}
	return util.JoinPath(components.ServiceRoot, prefix+components.EntitySet), nil
}
