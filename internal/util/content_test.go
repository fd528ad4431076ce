package util

import (
	"bytes"
	"testing"
)

func TestContentTypeClassification(t *testing.T) {
	tests := []struct {
		contentType string
		json        bool
		xml         bool
	}{
		{"application/json", true, false},
		{"application/json;odata=verbose", true, false},
		{"application/json; odata.metadata=minimal; charset=utf-8", true, false},
		{"application/problem+json", true, false},
		{"application/xml", false, true},
		{"text/xml; charset=utf-8", false, true},
		{"application/atom+xml;type=feed", false, true},
		{"text/plain", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := IsJSONContentType(tt.contentType); got != tt.json {
			t.Errorf("IsJSONContentType(%q) = %v, want %v", tt.contentType, got, tt.json)
		}
		if got := IsXMLContentType(tt.contentType); got != tt.xml {
			t.Errorf("IsXMLContentType(%q) = %v, want %v", tt.contentType, got, tt.xml)
		}
	}
}

func TestMatchContentType(t *testing.T) {
	if !MatchContentType("application/json;odata=verbose", "application/*") {
		t.Fatal("expected application/* to match json")
	}
	if !MatchContentType("text/html", "*/*") {
		t.Fatal("expected */* to match anything")
	}
	if MatchContentType("text/html", "application/*") {
		t.Fatal("text/html must not match application/*")
	}
	if MatchContentType("", "*/*") {
		t.Fatal("empty content type must not match")
	}
}

func TestIsBinaryContent(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"empty", nil, false},
		{"json", []byte(`{"d":{"results":[]}}`), false},
		{"utf8 text", []byte("Grüße aus Walldorf"), false},
		{"pdf", []byte("%PDF-1.7\n..."), true},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, true},
		{"gzip", []byte{0x1F, 0x8B, 0x08, 0x00}, true},
		{"nul byte", []byte("abc\x00def"), true},
		{"invalid utf8", []byte{'a', 0xC3, 0x28, 'b'}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBinaryContent(tt.data); got != tt.want {
				t.Fatalf("IsBinaryContent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBinaryContentRuneCutAtSniffBoundary(t *testing.T) {
	data := append(bytes.Repeat([]byte("a"), sniffLimit-1), []byte("ü and more text")...)
	if IsBinaryContent(data) {
		t.Fatal("a rune split by the sniff window must not mark text as binary")
	}
}

func TestDetectContentType(t *testing.T) {
	if got := DetectContentType("application/json;odata=verbose", []byte("<x/>")); got != "application/json" {
		t.Fatalf("declared content type should win, got %q", got)
	}
	if got := DetectContentType("", []byte("  {\"value\":[]}")); got != "application/json" {
		t.Fatalf("expected json sniff, got %q", got)
	}
	if got := DetectContentType("", []byte(`<?xml version="1.0"?><edmx:Edmx/>`)); got != "application/xml" {
		t.Fatalf("expected xml sniff, got %q", got)
	}
	if got := DetectContentType("", []byte("%PDF-1.4")); got != "application/pdf" {
		t.Fatalf("expected pdf sniff, got %q", got)
	}
	if got := DetectContentType("", []byte("plain words")); got != "text/plain" {
		t.Fatalf("expected text/plain, got %q", got)
	}
}
