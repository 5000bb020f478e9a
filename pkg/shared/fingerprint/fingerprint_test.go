package fingerprint

import "testing"

func TestHash(t *testing.T) {
	h := Hash("dast:tpl:example.com:/:x:")
	if len(h) != 64 {
		t.Fatalf("Hash length = %d, want 64", len(h))
	}
	if h != Hash("dast:tpl:example.com:/:x:") {
		t.Error("Hash is not deterministic")
	}
	for _, c := range h {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("Hash contains non-hex character %q", c)
		}
	}
}

func TestGenerate_Normalization(t *testing.T) {
	base := Generate(Input{TemplateID: "xss-reflected", Host: "example.com", Path: "/search", Parameter: "q"})

	same := []Input{
		{TemplateID: "XSS-Reflected", Host: "https://Example.com:443/", Path: "/search/", Parameter: "Q"},
		{TemplateID: "xss-reflected", Host: "http://example.com:80", Path: "search?q=1#top", Parameter: "q"},
	}
	for _, in := range same {
		if got := Generate(in); got != base {
			t.Errorf("Generate(%+v) should equal base fingerprint", in)
		}
	}

	different := []Input{
		{TemplateID: "xss-stored", Host: "example.com", Path: "/search", Parameter: "q"},
		{TemplateID: "xss-reflected", Host: "api.example.com", Path: "/search", Parameter: "q"},
		{TemplateID: "xss-reflected", Host: "example.com", Path: "/login", Parameter: "q"},
		{TemplateID: "xss-reflected", Host: "example.com", Path: "/search", Parameter: "id"},
		{TemplateID: "xss-reflected", Host: "example.com:8443", Path: "/search", Parameter: "q"},
	}
	for _, in := range different {
		if got := Generate(in); got == base {
			t.Errorf("Generate(%+v) should differ from base fingerprint", in)
		}
	}
}

func TestFromURL(t *testing.T) {
	a := FromURL("tech-detect", "https://example.com/admin?x=1", "nginx")
	b := Generate(Input{TemplateID: "tech-detect", Host: "example.com", Path: "/admin", Matcher: "nginx"})
	if a != b {
		t.Error("FromURL should split host and path")
	}
	if FromURL("tech-detect", "example.com", "") != Generate(Input{TemplateID: "tech-detect", Host: "example.com"}) {
		t.Error("bare host should fingerprint with an empty path")
	}
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		in, host, path string
	}{
		{"https://example.com/a/b", "example.com", "/a/b"},
		{"example.com:8080?q=1", "example.com:8080", "?q=1"},
		{"10.0.0.1", "10.0.0.1", ""},
	}
	for _, tt := range tests {
		host, path := splitURL(tt.in)
		if host != tt.host || path != tt.path {
			t.Errorf("splitURL(%q) = %q, %q", tt.in, host, path)
		}
	}
}
