package fanout

import (
	"log"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoResolver enriches registry logging with a best-effort city lookup for a
// listener's address. It never affects registration, broadcast, or eviction
// decisions — a failed or absent lookup just means less detail in the logs.
type GeoResolver struct {
	db     *geoip2.Reader
	logger *log.Logger
}

// NewGeoResolver opens the MaxMind database at path. A missing or unreadable
// database is a caller-visible error at startup, but once open, lookup
// failures during normal operation are swallowed and merely logged.
func NewGeoResolver(path string, logger *log.Logger) (*GeoResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &GeoResolver{db: db, logger: logger}, nil
}

// Describe returns a short human-readable location string for addr, or ""
// if the lookup fails for any reason.
func (g *GeoResolver) Describe(addr *net.UDPAddr) string {
	if g == nil || g.db == nil {
		return ""
	}
	city, err := g.db.City(addr.IP)
	if err != nil {
		g.logger.Printf("fanout: geoip lookup failed for %s: %v", addr.IP, err)
		return ""
	}
	name := city.City.Names["en"]
	country := city.Country.IsoCode
	switch {
	case name != "" && country != "":
		return name + ", " + country
	case country != "":
		return country
	default:
		return ""
	}
}

// Close releases the underlying database.
func (g *GeoResolver) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}
