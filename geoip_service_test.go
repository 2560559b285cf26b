package main

import "testing"

func TestDescribeClient(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "Chrome 120 / Windows"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox 121 / Linux"},
		{"", ""},
		{"???", ""},
	}
	for _, tt := range tests {
		if got := describeClient(tt.ua); got != tt.want {
			t.Errorf("describeClient(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestGeoIPDisabled(t *testing.T) {
	g, err := NewGeoIPService(GeoIPConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if g.IsEnabled() {
		t.Error("service enabled without a database")
	}
	if _, err := g.GetCountryCode("8.8.8.8"); err == nil {
		t.Error("lookup succeeded on a disabled service")
	}
	if got := g.lookupCountry("8.8.8.8"); got != "" {
		t.Errorf("lookupCountry = %q", got)
	}

	var nilService *GeoIPService
	if nilService.lookupCountry("8.8.8.8") != "" || nilService.Close() != nil {
		t.Error("nil service not inert")
	}

	if _, err := NewGeoIPService(GeoIPConfig{Enabled: true, DatabasePath: "/nonexistent/GeoLite2-Country.mmdb"}); err == nil {
		t.Error("missing database opened")
	}
}
