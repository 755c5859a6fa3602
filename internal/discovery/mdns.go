package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/libp2p/zeroconf/v2"
)

// DefaultBrowseTimeout bounds a browse when the caller's context carries no
// deadline of its own.
const DefaultBrowseTimeout = 3 * time.Second

// MDNSBrowser browses with zeroconf. Only entries a client could dial reach
// the output channel, and each instance is forwarded once even though
// responders re-announce it.
type MDNSBrowser struct {
	Interfaces []net.Interface
	Timeout    time.Duration
}

func NewMDNSBrowser(timeout time.Duration) *MDNSBrowser {
	return &MDNSBrowser{Interfaces: multicastInterfaces(), Timeout: timeout}
}

func (b *MDNSBrowser) Browse(ctx context.Context, service, domain string, entries chan<- ServiceEntry) error {
	if b == nil {
		return errors.New("mdns browser is required")
	}
	service, domain = serviceOrDefault(service), domainOrDefault(domain)
	ctx, cancel := b.window(ctx)
	defer cancel()

	raw := make(chan *zeroconf.ServiceEntry)
	go forwardDialable(ctx, raw, entries)

	var opts []zeroconf.ClientOption
	if len(b.Interfaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(b.Interfaces))
	}
	err := zeroconf.Browse(ctx, service, domain, raw, opts...)
	if err != nil && ctx.Err() != nil {
		// the browse window closing is the normal way out
		return nil
	}
	return err
}

// window bounds ctx by Timeout when ctx has no deadline of its own.
func (b *MDNSBrowser) window(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || b.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.Timeout)
}

// forwardDialable drains raw until it closes or ctx ends.
func forwardDialable(ctx context.Context, raw <-chan *zeroconf.ServiceEntry, out chan<- ServiceEntry) {
	seen := make(map[string]struct{})
	for {
		var e *zeroconf.ServiceEntry
		select {
		case <-ctx.Done():
			return
		case got, ok := <-raw:
			if !ok {
				return
			}
			e = got
		}
		if e == nil {
			continue
		}
		entry := ServiceEntry{
			Instance: e.Instance,
			HostName: e.HostName,
			Port:     e.Port,
			IPv4:     copyIPs(e.AddrIPv4),
			IPv6:     copyIPs(e.AddrIPv6),
			Text:     append([]string(nil), e.Text...),
		}
		if _, ok := EndpointFromEntry(entry); !ok {
			continue
		}
		key := entry.Instance + "\x00" + strconv.Itoa(entry.Port)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		select {
		case <-ctx.Done():
			return
		case out <- entry:
		}
	}
}

type Advertiser struct {
	server *zeroconf.Server
}

// StartAdvertiser announces a diagforge server on port until Close. The
// proto record is always published so browsers can filter on it.
func StartAdvertiser(instance, service, domain string, port int, txt TXT) (*Advertiser, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid advertise port: %d", port)
	}
	if instance = strings.TrimSpace(instance); instance == "" {
		instance = "diagforge"
	}
	server, err := zeroconf.Register(instance, serviceOrDefault(service), domainOrDefault(domain), port, txt.Records(), multicastInterfaces())
	if err != nil {
		return nil, fmt.Errorf("register %s on port %d: %w", instance, port, err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Close() error {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
	return nil
}

func serviceOrDefault(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return DefaultServiceName
	}
	return s
}

func domainOrDefault(d string) string {
	if d = strings.TrimSpace(d); d == "" {
		return DefaultDomain
	}
	return d
}

func copyIPs(in []net.IP) []net.IP {
	var out []net.IP
	for _, ip := range in {
		if ip != nil {
			out = append(out, append(net.IP(nil), ip...))
		}
	}
	return out
}

// multicastInterfaces lists up, non-loopback interfaces that can carry mDNS.
// nil lets zeroconf pick its own set.
func multicastInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, iface := range ifaces {
		const want = net.FlagUp | net.FlagMulticast
		if iface.Flags&want == want && iface.Flags&net.FlagLoopback == 0 {
			out = append(out, iface)
		}
	}
	return out
}
