package odp

import (
	"strings"

	"github.com/odatalink/odatalink/internal/odata"
	"github.com/odatalink/odatalink/internal/util"
	"github.com/tidwall/gjson"
)

// Delta token markers inside continuation URLs.
const (
	deltaTokenV2 = "!deltatoken="
	deltaTokenV4 = "$deltatoken="
)

// gjson paths into v2 (verbose) and v4 response envelopes.
var (
	pathV2Delta    = "d.__delta"
	pathV2Next     = "d.__next"
	pathV4Delta    = escapeGJSONKey(odata.AnnotationDeltaLink)
	pathV4NextLink = escapeGJSONKey(odata.AnnotationNextLink)
	pathV4Count    = escapeGJSONKey(odata.AnnotationCount)
)

func escapeGJSONKey(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}

// ExtractDeltaLink returns the delta link of a v2 ("d.__delta") or v4
// ("@odata.deltaLink") JSON payload. Malformed JSON yields "".
func ExtractDeltaLink(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	if link := gjson.GetBytes(body, pathV2Delta); link.Type == gjson.String {
		return link.String()
	}
	if link := gjson.GetBytes(body, pathV4Delta); link.Type == gjson.String {
		return link.String()
	}
	return ""
}

// ExtractDeltaToken returns the token component of the payload's delta link.
// Malformed JSON or a missing link yields "".
func ExtractDeltaToken(body []byte) string {
	return ExtractTokenFromDeltaURL(ExtractDeltaLink(body))
}

// ExtractNextLink returns the next-page link of a v2 ("d.__next") or v4
// ("@odata.nextLink") JSON payload, or "".
func ExtractNextLink(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	if link := gjson.GetBytes(body, pathV2Next); link.Type == gjson.String {
		return link.String()
	}
	if link := gjson.GetBytes(body, pathV4NextLink); link.Type == gjson.String {
		return link.String()
	}
	return ""
}

// ExtractTokenFromDeltaURL isolates the value following "!deltatoken=" or
// "$deltatoken=" up to the next '&' or the end of the string.
func ExtractTokenFromDeltaURL(deltaURL string) string {
	idx, markerLen := -1, 0
	for _, marker := range []string{deltaTokenV2, deltaTokenV4} {
		if i := strings.Index(deltaURL, marker); i >= 0 && (idx < 0 || i < idx) {
			idx, markerLen = i, len(marker)
		}
	}
	if idx < 0 {
		return ""
	}
	token := deltaURL[idx+markerLen:]
	if end := strings.IndexByte(token, '&'); end >= 0 {
		token = token[:end]
	}
	return token
}

// BuildDeltaURL drops any query string from baseURL, appends
// "!deltatoken=<token>" and ensures $format=json.
func BuildDeltaURL(baseURL, token string) string {
	return EnsureJSONFormat(util.AppendQuery(util.StripQuery(baseURL), deltaTokenV2+token))
}

// EnsureJSONFormat appends $format=json unless a $format option is already present.
func EnsureJSONFormat(rawURL string) string {
	if util.HasQueryParam(rawURL, odata.QueryFormat) {
		return rawURL
	}
	return util.AppendQuery(rawURL, odata.QueryFormat+"=json")
}
