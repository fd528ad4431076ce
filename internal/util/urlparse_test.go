package util

import "testing"

func TestParseURLWithServiceSuffix(t *testing.T) {
	c, err := ParseURL("https://host.example.com:8443/sap/opu/odata/sap/ZSALES_SRV.svc/Orders('42')/Items?$top=5&$format=json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Scheme != "https" || c.Host != "host.example.com" || c.Port != 8443 {
		t.Fatalf("unexpected origin: %+v", c)
	}
	if c.ServiceRoot != "https://host.example.com:8443/sap/opu/odata/sap/ZSALES_SRV.svc" {
		t.Fatalf("service root = %q", c.ServiceRoot)
	}
	if c.ResourcePath != "Orders('42')/Items" {
		t.Fatalf("resource path = %q", c.ResourcePath)
	}
	if c.EntitySet != "Orders" || c.KeyPredicate != "'42'" {
		t.Fatalf("entity set = %q key = %q", c.EntitySet, c.KeyPredicate)
	}
	if c.Query.Get("$top") != "5" {
		t.Fatalf("query $top = %q", c.Query.Get("$top"))
	}
}

func TestParseURLWithoutServiceSuffix(t *testing.T) {
	c, err := ParseURL("https://tenant.eu10.hcs.cloud.sap/api/v1/dwc/consumption/analytical/SPACE/VIEW")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Port != 443 {
		t.Fatalf("expected default https port, got %d", c.Port)
	}
	if c.ServiceRoot != "https://tenant.eu10.hcs.cloud.sap/api/v1/dwc/consumption/analytical/SPACE" {
		t.Fatalf("service root = %q", c.ServiceRoot)
	}
	if c.EntitySet != "VIEW" {
		t.Fatalf("entity set = %q", c.EntitySet)
	}
}

func TestParseURLRejectsRelative(t *testing.T) {
	if _, err := ParseURL("/Entity"); err == nil {
		t.Fatal("expected error for relative url")
	}
	if _, err := ParseURL(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestAppendQueryAndHasQueryParam(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x/Entity", "https://x/Entity?$format=json"},
		{"https://x/Entity?$top=5", "https://x/Entity?$top=5&$format=json"},
		{"https://x/Entity?", "https://x/Entity?$format=json"},
	}
	for _, tt := range tests {
		if got := AppendQuery(tt.in, "$format=json"); got != tt.want {
			t.Errorf("AppendQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if !HasQueryParam("https://x/E?$top=1&$format=json", "$format") {
		t.Fatal("expected $format to be detected")
	}
	if HasQueryParam("https://x/E?$formatted=1", "$format") {
		t.Fatal("prefix match must not count")
	}
	if got := StripQuery("https://x/E?$top=1#frag"); got != "https://x/E" {
		t.Fatalf("StripQuery = %q", got)
	}
	if got := JoinPath("https://x/svc/", "/$metadata"); got != "https://x/svc/$metadata" {
		t.Fatalf("JoinPath = %q", got)
	}
}
