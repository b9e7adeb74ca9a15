package discovery

import (
	"net"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func parseUDPAddr(s string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", s)
}

// cachedProxy is the on-disk representation of one previously-seen proxy.
type cachedProxy struct {
	Addr      string `yaml:"addr"`
	RadioInfo string `yaml:"radio_info"`
}

type cacheFile struct {
	Proxies []cachedProxy `yaml:"proxies"`
}

// DefaultCachePath returns $XDG_CACHE_HOME/icyclient/proxies.yaml, falling
// back to ./icyclient-proxies.yaml when no cache directory can be
// determined.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "icyclient-proxies.yaml"
	}
	return filepath.Join(dir, "icyclient", "proxies.yaml")
}

// LoadCache reads a previously-saved proxy list from path. A missing file is
// not an error: it returns an empty list. A corrupt file is also not an
// error, since the cache is never trusted for liveness — it only seeds the
// menu before the first DISCOVER round-trip completes.
func LoadCache(path string) []ProxyInfo {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cf cacheFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil
	}

	out := make([]ProxyInfo, 0, len(cf.Proxies))
	for _, p := range cf.Proxies {
		addr, err := parseUDPAddr(p.Addr)
		if err != nil {
			continue
		}
		out = append(out, ProxyInfo{ID: FoldAddr(addr), Addr: addr, RadioInfo: p.RadioInfo})
	}
	return out
}

// SaveCache persists the given proxies to path, creating parent directories
// as needed. Failures are the caller's to log; the cache is a convenience,
// never load-bearing.
func SaveCache(path string, proxies []ProxyInfo) error {
	cf := cacheFile{Proxies: make([]cachedProxy, 0, len(proxies))}
	for _, p := range proxies {
		cf.Proxies = append(cf.Proxies, cachedProxy{Addr: p.Addr.String(), RadioInfo: p.RadioInfo})
	}

	data, err := yaml.Marshal(&cf)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
