// Package config parses the CLI flags for both executables, optionally
// overlaid by environment variables sourced from a .env file.
package config

import (
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/joho/godotenv"
)

// ProxyConfig configures the icyproxy executable.
type ProxyConfig struct {
	Host       string        // upstream radio host
	Resource   string        // upstream resource path
	Port       int           // upstream port
	WantMeta   bool          // request inline ICY metadata
	Timeout    time.Duration // upstream connect/read timeout
	ListenPort int           // 0 means run in stdout-broadcaster mode
	MulticastGroup net.IP    // nil disables multicast join
	ClientTimeout time.Duration // listener eviction window
	GeoIPPath  string        // "" disables GeoIP enrichment
}

// ParseProxyConfig parses os.Args-style arguments into a ProxyConfig. Before
// parsing, it loads a .env file from the current directory (if present) and
// uses ICYPROXY_* variables as flag defaults; explicit flags still win.
func ParseProxyConfig(args []string) (ProxyConfig, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("icyproxy", flag.ContinueOnError)

	host := fs.String("h", envOr("ICYPROXY_HOST", "localhost"), "upstream radio host")
	resource := fs.String("r", envOr("ICYPROXY_RESOURCE", "/"), "upstream resource path")
	port := fs.Int("p", envIntOr("ICYPROXY_PORT", 8000), "upstream port")
	meta := fs.Bool("m", envBoolOr("ICYPROXY_META", false), "request inline ICY metadata")
	timeoutSec := fs.Int("t", envIntOr("ICYPROXY_TIMEOUT", 5), "upstream timeout, seconds (required, nonzero)")
	listenPort := fs.Int("P", envIntOr("ICYPROXY_LISTEN_PORT", 0), "UDP listen port (0 = stdout broadcaster)")
	broadcastAddr := fs.String("B", envOr("ICYPROXY_MULTICAST_GROUP", ""), "multicast group to join on the listen socket")
	clientTimeoutSec := fs.Int("T", envIntOr("ICYPROXY_CLIENT_TIMEOUT", 5), "listener eviction window, seconds (required, nonzero)")
	geoIPPath := fs.String("G", envOr("ICYPROXY_GEOIP_DB", ""), "path to a GeoIP city database (optional)")

	if err := fs.Parse(args); err != nil {
		return ProxyConfig{}, err
	}

	if *host == "" {
		return ProxyConfig{}, fmt.Errorf("config: -h (upstream host) is required")
	}
	if *resource == "" {
		return ProxyConfig{}, fmt.Errorf("config: -r (upstream resource) is required")
	}
	if *port <= 0 || *port > 65535 {
		return ProxyConfig{}, fmt.Errorf("config: -p (upstream port) must be in 1..65535, got %d", *port)
	}
	if *timeoutSec <= 0 {
		return ProxyConfig{}, fmt.Errorf("config: -t (upstream timeout) may not be 0")
	}
	if *listenPort < 0 || *listenPort > 65535 {
		return ProxyConfig{}, fmt.Errorf("config: -P (listen port) must be in 0..65535, got %d", *listenPort)
	}
	if *clientTimeoutSec <= 0 {
		return ProxyConfig{}, fmt.Errorf("config: -T (listener eviction timeout) may not be 0")
	}

	cfg := ProxyConfig{
		Host:          *host,
		Resource:      *resource,
		Port:          *port,
		WantMeta:      *meta,
		Timeout:       time.Duration(*timeoutSec) * time.Second,
		ListenPort:    *listenPort,
		ClientTimeout: time.Duration(*clientTimeoutSec) * time.Second,
		GeoIPPath:     *geoIPPath,
	}
	if *broadcastAddr != "" {
		ip := net.ParseIP(*broadcastAddr)
		if ip == nil {
			return ProxyConfig{}, fmt.Errorf("config: invalid multicast group %q", *broadcastAddr)
		}
		cfg.MulticastGroup = ip
	}
	return cfg, nil
}

// ClientConfig configures the icyclient executable.
type ClientConfig struct {
	BindHost      string
	ListenPort    int
	TelnetPort    int
	Timeout       time.Duration
	CachePath     string
}

// ParseClientConfig parses os.Args-style arguments into a ClientConfig,
// overlaying ICYCLIENT_* environment variables from a .env file.
func ParseClientConfig(args []string) (ClientConfig, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("icyclient", flag.ContinueOnError)

	bindHost := fs.String("H", envOr("ICYCLIENT_BIND_HOST", "255.255.255.255"), "broadcast/discovery address (required)")
	listenPort := fs.Int("P", envIntOr("ICYCLIENT_LISTEN_PORT", 9000), "UDP discovery port (required)")
	telnetPort := fs.Int("p", envIntOr("ICYCLIENT_TELNET_PORT", 2300), "TELNET listen port (required)")
	timeoutSec := fs.Int("T", envIntOr("ICYCLIENT_TIMEOUT", 5), "proxy eviction timeout, seconds (required, nonzero)")
	cachePath := fs.String("C", envOr("ICYCLIENT_CACHE_PATH", ""), "override path for the proxy cache file")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	if *bindHost == "" {
		return ClientConfig{}, fmt.Errorf("config: -H (broadcast/discovery address) is required")
	}
	if *listenPort <= 0 || *listenPort > 65535 {
		return ClientConfig{}, fmt.Errorf("config: -P (listen port) must be in 1..65535, got %d", *listenPort)
	}
	if *telnetPort <= 0 || *telnetPort > 65535 {
		return ClientConfig{}, fmt.Errorf("config: -p (telnet port) must be in 1..65535, got %d", *telnetPort)
	}
	if *timeoutSec <= 0 {
		return ClientConfig{}, fmt.Errorf("config: -T (proxy eviction timeout) may not be 0")
	}

	return ClientConfig{
		BindHost:   *bindHost,
		ListenPort: *listenPort,
		TelnetPort: *telnetPort,
		Timeout:    time.Duration(*timeoutSec) * time.Second,
		CachePath:  *cachePath,
	}, nil
}
