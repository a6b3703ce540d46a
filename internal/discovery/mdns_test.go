package discovery

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"meshchat.dev/go/meshchat/internal/logging"
)

const (
	selfID  = "12D3KooWSelfSelfSelfSelfSelfSelfSelfSelfSelfSelfSelf"
	otherID = "12D3KooWOtherOtherOtherOtherOtherOtherOtherOtherOthe"
)

type recorder struct {
	discovered []Peer
	expired    []Peer
}

func newTestService(rec *recorder, clock *time.Time) *Service {
	s := New(Options{
		PeerID: selfID,
		Expiry: time.Minute,
		Logger: logging.Discard(),
		OnDiscovered: func(p Peer) {
			rec.discovered = append(rec.discovered, p)
		},
		OnExpired: func(p Peer) {
			rec.expired = append(rec.expired, p)
		},
	})
	s.now = func() time.Time { return *clock }
	return s
}

func entry(txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry("host-abc", DefaultService, Domain)
	e.Text = txt
	return e
}

func TestHandleEntry(t *testing.T) {
	testCases := []struct {
		name      string
		entry     *zeroconf.ServiceEntry
		wantAddrs []string
	}{
		{
			name:      "addr records",
			entry:     entry("v=1", "id="+otherID, "addr=/ip4/192.168.1.7/tcp/4001"),
			wantAddrs: []string{"/ip4/192.168.1.7/tcp/4001"},
		},
		{
			name:      "bad addr skipped",
			entry:     entry("id="+otherID, "addr=nonsense", "addr=/ip4/10.0.0.3/udp/4001/quic-v1"),
			wantAddrs: []string{"/ip4/10.0.0.3/udp/4001/quic-v1"},
		},
		{
			name: "fallback to answer addresses",
			entry: func() *zeroconf.ServiceEntry {
				e := entry("id=" + otherID)
				e.Port = 4100
				e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.9")}
				e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1"), net.ParseIP("2001:db8::5")}
				return e
			}(),
			wantAddrs: []string{"/ip4/192.168.1.9/tcp/4100", "/ip6/2001:db8::5/tcp/4100"},
		},
		{
			name:  "self ignored",
			entry: entry("id="+selfID, "addr=/ip4/127.0.0.1/tcp/1"),
		},
		{
			name:  "no id",
			entry: entry("addr=/ip4/127.0.0.1/tcp/1"),
		},
		{
			name:  "no addresses",
			entry: entry("id=" + otherID),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			clock := time.Unix(1000, 0)
			s := newTestService(rec, &clock)

			s.handleEntry(tc.entry)

			if tc.wantAddrs == nil {
				if len(rec.discovered) != 0 || len(s.Peers()) != 0 {
					t.Errorf("expected nothing discovered, got %+v", rec.discovered)
				}
				return
			}
			if len(rec.discovered) != 1 {
				t.Fatalf("discovered %d peers, want 1", len(rec.discovered))
			}
			p := rec.discovered[0]
			if p.ID != otherID {
				t.Errorf("ID = %q", p.ID)
			}
			if strings.Join(p.Addrs, ",") != strings.Join(tc.wantAddrs, ",") {
				t.Errorf("Addrs = %v, want %v", p.Addrs, tc.wantAddrs)
			}
		})
	}
}

func TestRepeatedAnswersReportOnce(t *testing.T) {
	rec := &recorder{}
	clock := time.Unix(1000, 0)
	s := newTestService(rec, &clock)

	e := entry("id="+otherID, "addr=/ip4/192.168.1.7/tcp/4001")
	s.handleEntry(e)
	clock = clock.Add(30 * time.Second)
	s.handleEntry(e)

	if len(rec.discovered) != 1 {
		t.Errorf("discovered %d times, want 1", len(rec.discovered))
	}
	peers := s.Peers()
	if len(peers) != 1 || !peers[0].LastSeen.Equal(clock) {
		t.Errorf("peers = %+v", peers)
	}
}

func TestSweepExpiresSilentPeers(t *testing.T) {
	rec := &recorder{}
	clock := time.Unix(1000, 0)
	s := newTestService(rec, &clock)

	s.handleEntry(entry("id="+otherID, "addr=/ip4/192.168.1.7/tcp/4001"))

	clock = clock.Add(59 * time.Second)
	s.sweep()
	if len(rec.expired) != 0 {
		t.Fatalf("expired too early: %+v", rec.expired)
	}

	clock = clock.Add(2 * time.Second)
	s.sweep()
	if len(rec.expired) != 1 || rec.expired[0].ID != otherID {
		t.Fatalf("expired = %+v", rec.expired)
	}
	if len(s.Peers()) != 0 {
		t.Error("expired peer still known")
	}

	// Answering again after expiry is a new discovery
	s.handleEntry(entry("id="+otherID, "addr=/ip4/192.168.1.7/tcp/4001"))
	if len(rec.discovered) != 2 {
		t.Errorf("discovered %d times, want 2", len(rec.discovered))
	}
}

func TestTXTRecords(t *testing.T) {
	long := "/dns4/" + strings.Repeat("a", 260) + "/tcp/1"
	txt := TXTRecords(otherID, []string{"/ip4/1.2.3.4/tcp/5", long})

	want := []string{"v=1", "id=" + otherID, "addr=/ip4/1.2.3.4/tcp/5"}
	if strings.Join(txt, "|") != strings.Join(want, "|") {
		t.Errorf("TXTRecords = %v, want %v", txt, want)
	}
}

func TestInstanceName(t *testing.T) {
	name := instanceName(otherID)
	if !strings.HasSuffix(name, "-"+strings.ToLower(otherID[len(otherID)-8:])) {
		t.Errorf("instanceName = %q", name)
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			t.Errorf("instanceName %q contains %q", name, c)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := New(Options{PeerID: selfID, Logger: logging.Discard()})
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
