package icy

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

// fakeUpstream starts a one-shot TCP listener that writes the given response
// bytes to whoever connects, then closes.
func fakeUpstream(t *testing.T, response []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Drain the request line and headers before responding.
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write(response)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return host, port
}

func TestOpenAcceptsICYStatusLine(t *testing.T) {
	addr := fakeUpstream(t, []byte("ICY 200 OK\r\nicy-name:Test Radio\r\n\r\n"+
		string(bytes.Repeat([]byte{0x7f}, 8))))
	host, port := splitHostPort(t, addr)

	r := NewReader(Options{Host: host, Port: port, Resource: "/", Timeout: time.Second})
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
}

func TestOpenRejectsBadStatusLine(t *testing.T) {
	addr := fakeUpstream(t, []byte("HTTP/1.0 404 Not Found\r\n\r\n"))
	host, port := splitHostPort(t, addr)

	r := NewReader(Options{Host: host, Port: port, Resource: "/", Timeout: time.Second})
	err := r.Open(context.Background())
	if err == nil {
		t.Fatal("expected Open to fail on non-200 status line")
	}
}

func TestReadChunkDemuxesMetadataAtBoundary(t *testing.T) {
	// Scenario 3 from spec.md: icy-metaint: 8, 8 bytes audio then a 16-byte
	// metadata block (length byte = 1).
	audio := bytes.Repeat([]byte{0xAA}, 8)
	metaText := "StreamTitle='x';"
	if len(metaText) != 16 {
		t.Fatalf("test fixture bug: metaText must be exactly 16 bytes, got %d", len(metaText))
	}
	response := []byte("ICY 200 OK\r\nicy-metaint: 8\r\n\r\n")
	response = append(response, audio...)
	response = append(response, byte(1))
	response = append(response, metaText...)
	response = append(response, bytes.Repeat([]byte{0xBB}, 8)...)
	response = append(response, byte(0)) // second block's metadata: L=0

	addr := fakeUpstream(t, response)
	host, port := splitHostPort(t, addr)

	r := NewReader(Options{Host: host, Port: port, Resource: "/", Timeout: time.Second, WantMeta: true})
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 64)
	part, err := r.ReadChunk(buf)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if part.Size != 8 {
		t.Errorf("part.Size = %d, want 8", part.Size)
	}
	if !part.MetaPresent {
		t.Fatal("expected MetaPresent to be true at the metaint boundary")
	}
	if part.Meta != metaText {
		t.Errorf("part.Meta = %q, want %q", part.Meta, metaText)
	}

	part2, err := r.ReadChunk(buf)
	if err != nil {
		t.Fatalf("second ReadChunk: %v", err)
	}
	if part2.Size != 8 {
		t.Errorf("part2.Size = %d, want 8", part2.Size)
	}
}

func TestReadChunkZeroLengthMetaIsEmptyNotAbsent(t *testing.T) {
	audio := bytes.Repeat([]byte{0xCC}, 4)
	response := []byte("ICY 200 OK\r\nicy-metaint: 4\r\n\r\n")
	response = append(response, audio...)
	response = append(response, byte(0)) // L=0: present but empty
	response = append(response, bytes.Repeat([]byte{0xDD}, 4)...)

	addr := fakeUpstream(t, response)
	host, port := splitHostPort(t, addr)

	r := NewReader(Options{Host: host, Port: port, Resource: "/", Timeout: time.Second, WantMeta: true})
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 64)
	part, err := r.ReadChunk(buf)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !part.MetaPresent {
		t.Fatal("L=0 must still mark MetaPresent true")
	}
	if part.Meta != "" {
		t.Errorf("part.Meta = %q, want empty", part.Meta)
	}
}

func TestOpenFailsWhenUnsolicitedMetaint(t *testing.T) {
	addr := fakeUpstream(t, []byte("ICY 200 OK\r\nicy-metaint: 8\r\n\r\n"+
		string(bytes.Repeat([]byte{0x11}, 8))))
	host, port := splitHostPort(t, addr)

	r := NewReader(Options{Host: host, Port: port, Resource: "/", Timeout: time.Second, WantMeta: false})
	if err := r.Open(context.Background()); err == nil {
		t.Fatal("expected Open to fail: metaint present but metadata not requested")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	addr := fakeUpstream(t, []byte("ICY 200 OK\r\n\r\n"+string(bytes.Repeat([]byte{0x01}, 4))))
	host, port := splitHostPort(t, addr)

	r := NewReader(Options{Host: host, Port: port, Resource: "/", Timeout: time.Second})
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestRadioInfoIsHostPortResourceForm(t *testing.T) {
	r := NewReader(Options{Host: "radio.example.com", Port: 8000, Resource: "/stream"})
	want := "radio.example.com:8000/stream"
	if got := r.RadioInfo(); got != want {
		t.Errorf("RadioInfo() = %q, want %q", got, want)
	}
}
