package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultServiceName = "_diagforge._tcp"
	DefaultDomain      = "local."

	// Protocol is advertised in the proto TXT record. Browsers skip entries
	// that announce a different protocol.
	Protocol = "diagforge/1"
)

var ErrNoServiceFound = errors.New("no discovery service found")

type ServiceEntry struct {
	Instance string
	HostName string
	Port     int
	IPv4     []net.IP
	IPv6     []net.IP
	Text     []string
}

type Endpoint struct {
	URL      string
	Instance string
	HostName string
	Port     int

	Version    string
	MCPPath    string
	AuthHeader string
}

// MCPURL is the streamable MCP endpoint, or "" if the server does not serve
// MCP over HTTP.
func (e Endpoint) MCPURL() string {
	if e.MCPPath == "" {
		return ""
	}
	return e.URL + e.MCPPath
}

// TXT describes what a server advertises next to its address.
type TXT struct {
	Version    string
	MCPPath    string
	AuthHeader string
}

func (t TXT) Records() []string {
	out := []string{"proto=" + Protocol}
	if t.Version != "" {
		out = append(out, "version="+t.Version)
	}
	if t.MCPPath != "" {
		out = append(out, "mcp="+t.MCPPath)
	}
	if t.AuthHeader != "" {
		out = append(out, "auth="+t.AuthHeader)
	}
	return out
}

func parseTXT(records []string) (proto string, txt TXT) {
	for _, rec := range records {
		k, v, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch k {
		case "proto":
			proto = v
		case "version":
			txt.Version = v
		case "mcp":
			txt.MCPPath = v
		case "auth":
			txt.AuthHeader = v
		}
	}
	return proto, txt
}

type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- ServiceEntry) error
}

// Discover returns the first dialable server announced on the local network.
func Discover(ctx context.Context, service, domain string) (Endpoint, error) {
	b := NewMDNSBrowser(DefaultBrowseTimeout)
	ctx, cancel := b.window(ctx)
	defer cancel()
	return DiscoverWithBrowser(ctx, b, service, domain)
}

func DiscoverWithBrowser(ctx context.Context, browser Browser, service, domain string) (Endpoint, error) {
	if browser == nil {
		return Endpoint{}, errors.New("browser is required")
	}
	service, domain = serviceOrDefault(service), domainOrDefault(domain)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan ServiceEntry, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- browser.Browse(scanCtx, service, domain, entries)
	}()
	browseFinished := false

	for {
		select {
		case <-scanCtx.Done():
			if errors.Is(scanCtx.Err(), context.DeadlineExceeded) || errors.Is(scanCtx.Err(), context.Canceled) || browseFinished {
				return Endpoint{}, fmt.Errorf("discover %s failed: %w", service, ErrNoServiceFound)
			}
			return Endpoint{}, scanCtx.Err()
		case err := <-errCh:
			if err != nil {
				return Endpoint{}, fmt.Errorf("browse discovery service %s: %w", service, err)
			}
			browseFinished = true
			errCh = nil
		case entry := <-entries:
			endpoint, ok := EndpointFromEntry(entry)
			if !ok {
				continue
			}
			return endpoint, nil
		}
	}
}

// EndpointFromEntry turns a browse result into a dialable endpoint. Entries
// without a usable address or that announce another protocol are rejected.
func EndpointFromEntry(entry ServiceEntry) (Endpoint, bool) {
	if entry.Port <= 0 {
		return Endpoint{}, false
	}
	proto, txt := parseTXT(entry.Text)
	if proto != "" && proto != Protocol {
		return Endpoint{}, false
	}
	ip := pickIP(entry.IPv4, entry.IPv6)
	if ip == nil {
		return Endpoint{}, false
	}
	host := ip.String()
	if ip.To4() == nil {
		host = "[" + host + "]"
	}
	return Endpoint{
		URL:        "http://" + host + ":" + strconv.Itoa(entry.Port),
		Instance:   entry.Instance,
		HostName:   entry.HostName,
		Port:       entry.Port,
		Version:    txt.Version,
		MCPPath:    txt.MCPPath,
		AuthHeader: txt.AuthHeader,
	}, true
}

func ParseListenPort(listenAddr string) (int, error) {
	trimmed := strings.TrimSpace(listenAddr)
	if trimmed == "" {
		return 0, errors.New("listen address is required")
	}
	_, portStr, err := net.SplitHostPort(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen port out of range: %d", port)
	}
	return port, nil
}

func pickIP(ipv4 []net.IP, ipv6 []net.IP) net.IP {
	for _, ips := range [][]net.IP{ipv4, ipv6} {
		for _, ip := range ips {
			if validAdvertisedIP(ip) && !ip.IsLoopback() {
				return ip
			}
		}
	}
	for _, ips := range [][]net.IP{ipv4, ipv6} {
		for _, ip := range ips {
			if validAdvertisedIP(ip) {
				return ip
			}
		}
	}
	return nil
}

func validAdvertisedIP(ip net.IP) bool {
	return ip != nil && !ip.IsUnspecified()
}
