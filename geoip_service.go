package main

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/ua-parser/uap-go/uaparser"
)

// GeoIPService resolves the country of clients requesting transmissions
type GeoIPService struct {
	db      *geoip2.Reader
	mu      sync.RWMutex
	enabled bool
}

// NewGeoIPService creates a new GeoIP service instance
// If the service is not enabled, returns a disabled service
func NewGeoIPService(config GeoIPConfig) (*GeoIPService, error) {
	if !config.Enabled || config.DatabasePath == "" {
		log.Println("GeoIP: Database path not configured, service disabled")
		return &GeoIPService{enabled: false}, nil
	}

	db, err := geoip2.Open(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database at %s: %w", config.DatabasePath, err)
	}

	log.Printf("GeoIP: Service initialized successfully (database: %s)", config.DatabasePath)
	return &GeoIPService{
		db:      db,
		enabled: true,
	}, nil
}

// IsEnabled returns whether the GeoIP service is enabled
func (g *GeoIPService) IsEnabled() bool {
	return g != nil && g.enabled
}

// GetCountryCode returns the ISO country code for an IP address
func (g *GeoIPService) GetCountryCode(ipStr string) (string, error) {
	if !g.IsEnabled() {
		return "", fmt.Errorf("GeoIP service not enabled")
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", ipStr)
	}

	record, err := g.db.Country(ip)
	if err != nil {
		return "", fmt.Errorf("country lookup failed for %s: %w", ipStr, err)
	}
	return record.Country.IsoCode, nil
}

// lookupCountry is GetCountryCode for record keeping: failures are empty
func (g *GeoIPService) lookupCountry(ipStr string) string {
	if !g.IsEnabled() || ipStr == "" {
		return ""
	}
	code, err := g.GetCountryCode(ipStr)
	if err != nil {
		if DebugMode {
			log.Printf("DEBUG: GeoIP: %v", err)
		}
		return ""
	}
	return code
}

// Close closes the GeoIP database
func (g *GeoIPService) Close() error {
	if !g.IsEnabled() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		err := g.db.Close()
		g.db = nil
		g.enabled = false
		return err
	}
	return nil
}

var (
	uaParserOnce sync.Once
	uaParser     *uaparser.Parser
)

// describeClient reduces a User-Agent to "Browser Major / OS", empty when
// nothing useful is recognised
func describeClient(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	uaParserOnce.Do(func() {
		uaParser = uaparser.NewFromSaved()
	})

	client := uaParser.Parse(userAgent)
	family := client.UserAgent.Family
	if family == "" || family == "Other" {
		return ""
	}
	if client.UserAgent.Major != "" {
		family += " " + client.UserAgent.Major
	}
	if os := client.Os.Family; os != "" && os != "Other" {
		family += " / " + os
	}
	return family
}
