package util

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// binarySignature pairs a media type with the leading bytes that identify it.
type binarySignature struct {
	mediaType string
	magic     []byte
}

// binarySignatures lists magic-byte prefixes of payloads that must never be treated as text.
var binarySignatures = []binarySignature{
	{mediaType: "application/pdf", magic: []byte("%PDF-")},
	{mediaType: "image/png", magic: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
	{mediaType: "image/jpeg", magic: []byte{0xFF, 0xD8, 0xFF}},
	{mediaType: "image/gif", magic: []byte("GIF8")},
	{mediaType: "application/zip", magic: []byte{'P', 'K', 0x03, 0x04}},
	{mediaType: "application/gzip", magic: []byte{0x1F, 0x8B}},
	{mediaType: "application/zstd", magic: []byte{0x28, 0xB5, 0x2F, 0xFD}},
	{mediaType: "application/x-ole-storage", magic: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}},
}

// sniffLimit bounds how many leading bytes are inspected when guessing content.
const sniffLimit = 512

// MediaType returns the lower-cased media type of a Content-Type header value
// without its parameters. Unparseable values fall back to the text before ';'.
func MediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// IsJSONContentType reports whether the Content-Type header denotes JSON,
// including OData's parameterised variants and +json suffixes.
func IsJSONContentType(contentType string) bool {
	mediaType := MediaType(contentType)
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// IsXMLContentType reports whether the Content-Type header denotes XML (EDMX metadata, Atom feeds).
func IsXMLContentType(contentType string) bool {
	mediaType := MediaType(contentType)
	return mediaType == "application/xml" || mediaType == "text/xml" || strings.HasSuffix(mediaType, "+xml")
}

// MatchContentType matches a Content-Type header against a pattern such as
// "application/json", "application/*" or "*/*".
func MatchContentType(contentType, pattern string) bool {
	mediaType := MediaType(contentType)
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if mediaType == "" || pattern == "" {
		return false
	}
	if pattern == "*/*" || pattern == mediaType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(mediaType, prefix+"/")
	}
	return false
}

// IsBinaryContent reports whether data looks like a binary payload: a known
// magic-byte signature, a NUL byte, or invalid UTF-8 within the sniffed prefix.
func IsBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, sig := range binarySignatures {
		if bytes.HasPrefix(data, sig.magic) {
			return true
		}
	}
	head := data
	if len(head) > sniffLimit {
		head = head[:sniffLimit]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	if utf8.Valid(head) {
		return false
	}
	if len(data) > sniffLimit {
		// A multi-byte rune may be cut at the sniff boundary.
		for i := 1; i < utf8.UTFMax && i < len(head); i++ {
			if utf8.Valid(head[:len(head)-i]) {
				return false
			}
		}
	}
	return true
}

// DetectContentType returns the media type of a response. A declared
// Content-Type wins; otherwise the body is sniffed, recognising JSON and XML
// documents first and deferring to mimetype for everything else.
func DetectContentType(contentType string, body []byte) string {
	if mediaType := MediaType(contentType); mediaType != "" {
		return mediaType
	}
	for _, sig := range binarySignatures {
		if bytes.HasPrefix(body, sig.magic) {
			return sig.mediaType
		}
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '{', '[':
			return "application/json"
		case '<':
			return "application/xml"
		}
	}
	return MediaType(mimetype.Detect(body).String())
}
