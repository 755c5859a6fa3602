package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestEndpointFromEntry_PrefersNonLoopbackIPv4(t *testing.T) {
	entry := ServiceEntry{
		Instance: "diagforge",
		HostName: "host.local.",
		Port:     8080,
		IPv4:     []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("192.168.1.10")},
		IPv6:     []net.IP{net.ParseIP("::1")},
	}
	ep, ok := EndpointFromEntry(entry)
	if !ok {
		t.Fatalf("expected endpoint")
	}
	if ep.URL != "http://192.168.1.10:8080" {
		t.Fatalf("unexpected url: %s", ep.URL)
	}
}

func TestEndpointFromEntry_UsesBracketedIPv6(t *testing.T) {
	entry := ServiceEntry{
		Instance: "diagforge",
		HostName: "host.local.",
		Port:     8080,
		IPv6:     []net.IP{net.ParseIP("fd00::10")},
	}
	ep, ok := EndpointFromEntry(entry)
	if !ok {
		t.Fatalf("expected endpoint")
	}
	if ep.URL != "http://[fd00::10]:8080" {
		t.Fatalf("unexpected url: %s", ep.URL)
	}
}

func TestEndpointFromEntry_InvalidEntry(t *testing.T) {
	if _, ok := EndpointFromEntry(ServiceEntry{Port: 0}); ok {
		t.Fatalf("expected invalid endpoint")
	}
	if _, ok := EndpointFromEntry(ServiceEntry{Port: 8080}); ok {
		t.Fatalf("expected invalid endpoint without IP")
	}
}

func TestEndpointFromEntry_ReadsTXT(t *testing.T) {
	txt := TXT{Version: "0.3.0", MCPPath: "/mcp", AuthHeader: "X-Build-Token"}
	entry := ServiceEntry{
		Instance: "diagforge",
		Port:     8080,
		IPv4:     []net.IP{net.ParseIP("10.0.0.7")},
		Text:     append(txt.Records(), "garbage"),
	}
	ep, ok := EndpointFromEntry(entry)
	if !ok {
		t.Fatalf("expected endpoint")
	}
	if ep.Version != "0.3.0" || ep.AuthHeader != "X-Build-Token" {
		t.Fatalf("TXT not applied: %+v", ep)
	}
	if ep.MCPURL() != "http://10.0.0.7:8080/mcp" {
		t.Fatalf("unexpected mcp url: %s", ep.MCPURL())
	}
	if (Endpoint{URL: "http://x"}).MCPURL() != "" {
		t.Fatalf("expected no mcp url without an advertised path")
	}
}

func TestEndpointFromEntry_SkipsForeignProtocol(t *testing.T) {
	entry := ServiceEntry{
		Port: 8080,
		IPv4: []net.IP{net.ParseIP("10.0.0.7")},
		Text: []string{"proto=otherthing/2"},
	}
	if _, ok := EndpointFromEntry(entry); ok {
		t.Fatalf("expected entry with a foreign protocol to be skipped")
	}
}

func TestTXTRecords(t *testing.T) {
	got := TXT{MCPPath: "/mcp"}.Records()
	if len(got) != 2 || got[0] != "proto="+Protocol || got[1] != "mcp=/mcp" {
		t.Fatalf("unexpected records %v", got)
	}
}

func TestParseListenPort(t *testing.T) {
	port, err := ParseListenPort(":8080")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if port != 8080 {
		t.Fatalf("expected 8080, got %d", port)
	}

	if _, err := ParseListenPort("8080"); err == nil {
		t.Fatalf("expected error for invalid listen address")
	}
}

func TestDiscoverWithBrowser_FindsEndpoint(t *testing.T) {
	fb := &fakeBrowser{entries: []ServiceEntry{{
		Instance: "diagforge",
		HostName: "host.local.",
		Port:     8080,
		IPv4:     []net.IP{net.ParseIP("10.0.0.5")},
	}}}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ep, err := DiscoverWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if ep.URL != "http://10.0.0.5:8080" {
		t.Fatalf("unexpected url: %s", ep.URL)
	}
}

func TestDiscoverWithBrowser_SkipsUnusableEntries(t *testing.T) {
	fb := &fakeBrowser{entries: []ServiceEntry{
		{Instance: "noaddr", Port: 8080},
		{Instance: "foreign", Port: 8080, IPv4: []net.IP{net.ParseIP("10.0.0.8")}, Text: []string{"proto=x"}},
		{Instance: "good", Port: 9090, IPv4: []net.IP{net.ParseIP("10.0.0.9")}, Text: TXT{}.Records()},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ep, err := DiscoverWithBrowser(ctx, fb, "", "")
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if ep.Instance != "good" || ep.URL != "http://10.0.0.9:9090" {
		t.Fatalf("unexpected endpoint %+v", ep)
	}
}

func TestDiscoverWithBrowser_NoResult(t *testing.T) {
	fb := &fakeBrowser{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := DiscoverWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain)
	if err == nil {
		t.Fatalf("expected no service error")
	}
	if !errors.Is(err, ErrNoServiceFound) {
		t.Fatalf("expected ErrNoServiceFound, got %v", err)
	}
}

func TestDiscoverWithBrowser_BrowseError(t *testing.T) {
	fb := &fakeBrowser{err: errors.New("boom")}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := DiscoverWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain)
	if err == nil {
		t.Fatalf("expected browse error")
	}
}

func TestDiscoverWithBrowser_BrowseReturnsImmediatelyStillFindsEntry(t *testing.T) {
	fb := &fakeBrowser{
		asyncEntries: []ServiceEntry{{
			Instance: "diagforge",
			HostName: "host.local.",
			Port:     8080,
			IPv4:     []net.IP{net.ParseIP("10.0.0.11")},
		}},
		asyncDelay: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	endpoint, err := DiscoverWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if endpoint.URL != "http://10.0.0.11:8080" {
		t.Fatalf("unexpected url: %s", endpoint.URL)
	}
}

type fakeBrowser struct {
	entries      []ServiceEntry
	asyncEntries []ServiceEntry
	asyncDelay   time.Duration
	err          error
}

func (f *fakeBrowser) Browse(ctx context.Context, service, domain string, entries chan<- ServiceEntry) error {
	if f.err != nil {
		return f.err
	}
	for _, entry := range f.entries {
		select {
		case <-ctx.Done():
			return nil
		case entries <- entry:
		}
	}
	if len(f.asyncEntries) > 0 {
		go func() {
			timer := time.NewTimer(f.asyncDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			for _, entry := range f.asyncEntries {
				select {
				case <-ctx.Done():
					return
				case entries <- entry:
				}
			}
		}()
		return nil
	}
	<-ctx.Done()
	return nil
}
