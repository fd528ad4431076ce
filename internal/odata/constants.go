// Package odata assembles, escapes and parses OData query-string grammar for
// v2 and v4 services: $filter, $select, $expand, $orderby, $apply, $top and $skip.
package odata

// Version identifies the OData protocol version a request targets.
type Version int

const (
	// V2 is OData 2.0, the protocol spoken by SAP Gateway and ODP.
	V2 Version = 2
	// V4 is OData 4.0 (Datasphere, Business Central, Dataverse).
	V4 Version = 4
)

// String returns the header value for the version.
func (v Version) String() string {
	if v == V4 {
		return "4.0"
	}
	return "2.0"
}

// Protocol headers.
const (
	HeaderDataServiceVersion    = "DataServiceVersion"
	HeaderMaxDataServiceVersion = "MaxDataServiceVersion"
	HeaderODataVersion          = "OData-Version"
	HeaderODataMaxVersion       = "OData-MaxVersion"
	HeaderPrefer                = "Prefer"
	HeaderPreferenceApplied     = "Preference-Applied"
	HeaderAccept                = "Accept"
)

// Content types.
const (
	ContentTypeJSONVerbose   = "application/json;odata=verbose"
	ContentTypeJSONMinimalV4 = "application/json;odata.metadata=minimal"
	ContentTypeXML           = "application/xml"
)

// Query options.
const (
	QuerySelect      = "$select"
	QueryFilter      = "$filter"
	QueryExpand      = "$expand"
	QueryOrderBy     = "$orderby"
	QueryTop         = "$top"
	QuerySkip        = "$skip"
	QueryCount       = "$count"
	QueryInlineCount = "$inlinecount"
	QueryApply       = "$apply"
	QuerySearch      = "$search"
	QueryFormat      = "$format"
)

// Response annotations.
const (
	AnnotationNextLink  = "@odata.nextLink"
	AnnotationDeltaLink = "@odata.deltaLink"
	AnnotationCount     = "@odata.count"
)
