package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/libp2p/zeroconf/v2"
)

func zcEntry(instance string, port int, ip string, txt ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance},
		HostName:      instance + ".local.",
		Port:          port,
		Text:          txt,
	}
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip).To4()}
	}
	return e
}

func TestForwardDialable_FiltersAndDedups(t *testing.T) {
	raw := make(chan *zeroconf.ServiceEntry, 8)
	out := make(chan ServiceEntry, 8)
	records := TXT{}.Records()
	raw <- zcEntry("noport", 0, "10.0.0.1", records...)
	raw <- zcEntry("noaddr", 8080, "", records...)
	raw <- zcEntry("foreign", 8080, "10.0.0.2", "proto=other/1")
	raw <- nil
	raw <- zcEntry("good", 8080, "10.0.0.3", records...)
	raw <- zcEntry("good", 8080, "10.0.0.3", records...)
	raw <- zcEntry("legacy", 9090, "10.0.0.4")
	close(raw)

	forwardDialable(context.Background(), raw, out)
	close(out)

	var got []string
	for e := range out {
		got = append(got, e.Instance)
	}
	if len(got) != 2 || got[0] != "good" || got[1] != "legacy" {
		t.Fatalf("unexpected forwarded entries %v", got)
	}
}

func TestForwardDialable_DetachesAddresses(t *testing.T) {
	raw := make(chan *zeroconf.ServiceEntry, 1)
	out := make(chan ServiceEntry, 1)
	src := zcEntry("good", 8080, "10.0.0.1", TXT{}.Records()...)
	raw <- src
	close(raw)

	forwardDialable(context.Background(), raw, out)
	src.AddrIPv4[0][3] = 99
	src.Text[0] = "proto=changed"
	e := <-out
	if e.IPv4[0].String() != "10.0.0.1" || e.Text[0] != "proto="+Protocol {
		t.Fatalf("forwarded entry shares memory with the source: %+v", e)
	}
}

func TestForwardDialable_StopsOnCancel(t *testing.T) {
	raw := make(chan *zeroconf.ServiceEntry)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		forwardDialable(ctx, raw, make(chan ServiceEntry))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("forwarder did not stop after cancel")
	}
}

func TestMDNSBrowser_WindowKeepsCallerDeadline(t *testing.T) {
	b := &MDNSBrowser{Timeout: time.Hour}
	parent, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx, stop := b.window(parent)
	defer stop()
	if d, _ := ctx.Deadline(); time.Until(d) > time.Minute {
		t.Fatalf("window extended the caller deadline to %v", d)
	}

	ctx, stop = b.window(context.Background())
	defer stop()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatalf("expected the browse timeout to apply")
	}

	ctx, stop = (&MDNSBrowser{}).window(context.Background())
	defer stop()
	if _, ok := ctx.Deadline(); ok {
		t.Fatalf("zero timeout should leave ctx unbounded")
	}
}

func TestCopyIPs_DropsNil(t *testing.T) {
	got := copyIPs([]net.IP{net.ParseIP("10.0.0.1").To4(), nil, net.ParseIP("fd00::1")})
	if len(got) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(got))
	}
	if copyIPs(nil) != nil {
		t.Fatalf("expected nil for no addresses")
	}
}

func TestStartAdvertiser_RejectsInvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		if _, err := StartAdvertiser("diagforge", DefaultServiceName, DefaultDomain, port, TXT{}); err == nil {
			t.Fatalf("expected error for port %d", port)
		}
	}
}

func TestAdvertiser_CloseNil(t *testing.T) {
	var a *Advertiser
	if err := a.Close(); err != nil {
		t.Fatalf("closing a nil advertiser should be a no-op: %v", err)
	}
}

func TestServiceAndDomainDefaults(t *testing.T) {
	if serviceOrDefault("  ") != DefaultServiceName || domainOrDefault("") != DefaultDomain {
		t.Fatalf("blank names should fall back to defaults")
	}
	if serviceOrDefault(" _x._tcp ") != "_x._tcp" {
		t.Fatalf("service should be trimmed")
	}
}
