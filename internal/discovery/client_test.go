package discovery

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/streamrelay/streamrelay/internal/model"
	"github.com/streamrelay/streamrelay/internal/wire"
)

func TestDiscoverSendsWellFormedDatagram(t *testing.T) {
	upstream, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("upstream listen: %v", err)
	}
	defer upstream.Close()

	events := make(chan model.Event, 8)
	c, err := NewClient(Config{ListenPort: 0, BroadcastAddr: upstream.LocalAddr().String()}, events)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	if err := c.Discover(); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	upstream.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, _, err := upstream.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read DISCOVER: %v", err)
	}
	msg, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != wire.Discover {
		t.Errorf("type = %v, want DISCOVER", msg.Type)
	}
	if len(msg.Payload) != 0 {
		t.Errorf("DISCOVER payload = %v, want empty", msg.Payload)
	}
}

func TestRunEmitsIamReceivedEvent(t *testing.T) {
	events := make(chan model.Event, 8)
	c, err := NewClient(Config{ListenPort: 0, BroadcastAddr: "127.0.0.1:9"}, events)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	sender, err := net.ListenUDP("udp4", nil)
	if err != nil {
		t.Fatalf("sender listen: %v", err)
	}
	defer sender.Close()

	iam, _ := wire.Encode(wire.Iam, []byte("radio.example.com:8000/stream"))
	if _, err := sender.WriteToUDP(iam, c.conn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("send IAM: %v", err)
	}

	select {
	case ev := <-events:
		got, ok := ev.(model.IamReceived)
		if !ok {
			t.Fatalf("event type = %T, want IamReceived", ev)
		}
		if got.RadioInfo != "radio.example.com:8000/stream" {
			t.Errorf("RadioInfo = %q", got.RadioInfo)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for IamReceived event")
	}
}

func TestFoldAddrIsStableForSameAddress(t *testing.T) {
	a, _ := net.ResolveUDPAddr("udp4", "127.0.0.1:9000")
	b, _ := net.ResolveUDPAddr("udp4", "127.0.0.1:9000")
	if FoldAddr(a) != FoldAddr(b) {
		t.Error("FoldAddr should be stable for equal addresses")
	}

	c, _ := net.ResolveUDPAddr("udp4", "127.0.0.1:9001")
	if FoldAddr(a) == FoldAddr(c) {
		t.Error("FoldAddr should differ for different ports")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/proxies.yaml"

	addr, _ := net.ResolveUDPAddr("udp4", "10.0.0.5:9000")
	proxies := []ProxyInfo{{ID: FoldAddr(addr), Addr: addr, RadioInfo: "radio.example.com:8000/stream"}}

	if err := SaveCache(path, proxies); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	loaded := LoadCache(path)
	if len(loaded) != 1 {
		t.Fatalf("LoadCache returned %d entries, want 1", len(loaded))
	}
	if loaded[0].RadioInfo != "radio.example.com:8000/stream" {
		t.Errorf("RadioInfo = %q", loaded[0].RadioInfo)
	}
}

func TestLoadCacheMissingFileReturnsEmpty(t *testing.T) {
	loaded := LoadCache("/nonexistent/path/proxies.yaml")
	if loaded != nil {
		t.Errorf("LoadCache on missing file = %v, want nil", loaded)
	}
}

func TestLoadCacheCorruptFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bad.yaml"
	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	loaded := LoadCache(path)
	if loaded != nil {
		t.Errorf("LoadCache on corrupt file = %v, want nil", loaded)
	}
}
