package geoip

import (
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/oschwald/maxminddb-golang"

	"github.com/sentra/waf/internal/core"
)

// cityRecord is the subset of the GeoLite2-City schema we decode.
type cityRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// mockEntry is one row of the deterministic fallback table. The prefixes
// line up with the ranges the traffic simulator emits, so dashboards show
// stable coordinates even for private source addresses.
type mockEntry struct {
	prefix  string
	code    string
	country string
	city    string
	lat     float64
	lon     float64
}

var mockTable = []mockEntry{
	{"10.1.", "US", "United States", "San Francisco", 37.77, -122.41},
	{"10.2.", "CN", "China", "Shanghai", 31.23, 121.47},
	{"10.3.", "RU", "Russia", "Moscow", 55.75, 37.61},
	{"10.4.", "BR", "Brazil", "Sao Paulo", -23.55, -46.63},
	{"10.5.", "DE", "Germany", "Berlin", 52.52, 13.40},
	{"10.6.", "IN", "India", "Mumbai", 19.07, 72.87},
	{"10.7.", "JP", "Japan", "Tokyo", 35.67, 139.65},
	{"10.8.", "AU", "Australia", "Sydney", -33.86, 151.20},
	{"10.9.", "FR", "France", "Paris", 48.85, 2.35},
	{"10.10.", "GB", "United Kingdom", "London", 51.50, -0.12},
}

func (e mockEntry) attribution() core.GeoAttribution {
	return core.GeoAttribution{
		CountryCode: e.code,
		CountryName: e.country,
		City:        e.city,
		Latitude:    e.lat,
		Longitude:   e.lon,
	}
}

// Resolver maps source IPs to geographic attributions using a MaxMind
// city database. It degrades to the deterministic mock table when the
// database is missing or the address cannot be found in it.
type Resolver struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader // nil in mock-only mode
}

// Open loads the city database at path. A missing or unreadable file is
// not fatal: the resolver starts in mock-only mode.
func Open(path string) *Resolver {
	r := &Resolver{}
	if path == "" {
		slog.Info("GeoIP database path not set, using mock attribution")
		return r
	}
	reader, err := maxminddb.Open(path)
	if err != nil {
		slog.Warn("Failed to load GeoIP database, using mock attribution", "path", path, "error", err)
		return r
	}
	slog.Info("GeoIP database loaded", "path", path)
	r.reader = reader
	return r
}

// Loaded reports whether a database is currently open.
func (r *Resolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reader != nil
}

// Close releases the database. Safe to call with in-flight lookups.
func (r *Resolver) Close() {
	r.mu.Lock()
	reader := r.reader
	r.reader = nil
	r.mu.Unlock()
	if reader != nil {
		reader.Close()
	}
}

// Resolve maps a textual IP address to its geographic attribution.
// Private and loopback addresses never touch the database; they get a
// mock attribution with is_private set so the simulator ranges render
// on the map. Unparseable input yields the unknown attribution.
func (r *Resolver) Resolve(ip string) core.GeoAttribution {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return core.GeoAttribution{CountryCode: "XX", CountryName: "Unknown", City: "Unknown"}
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
		geo := mockResolve(ip)
		geo.IsPrivate = true
		return geo
	}

	rec, ok := r.lookup(addr)
	if !ok {
		return mockResolve(ip)
	}

	geo := core.GeoAttribution{
		CountryCode: rec.Country.ISOCode,
		CountryName: rec.Country.Names["en"],
		City:        rec.City.Names["en"],
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
	}
	if geo.CountryName == "" {
		geo.CountryName = "Unknown"
	}
	if geo.City == "" {
		geo.City = "Unknown"
	}
	return geo
}

// lookup holds the read lock for the whole database access so Close
// cannot free the reader mid-lookup.
func (r *Resolver) lookup(addr netip.Addr) (cityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rec cityRecord
	if r.reader == nil {
		return rec, false
	}
	if err := r.reader.Lookup(net.IP(addr.AsSlice()), &rec); err != nil {
		slog.Warn("GeoIP lookup failed", "ip", addr.String(), "error", err)
		return rec, false
	}
	// An empty ISO code means the address is not in the database.
	return rec, rec.Country.ISOCode != ""
}

// mockResolve returns the deterministic attribution for an address:
// first by table prefix, then by sum of octets into the table.
func mockResolve(ip string) core.GeoAttribution {
	for _, e := range mockTable {
		if strings.HasPrefix(ip, e.prefix) {
			return e.attribution()
		}
	}
	sum := 0
	for _, part := range strings.Split(ip, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		sum += n
	}
	return mockTable[sum%len(mockTable)].attribution()
}
