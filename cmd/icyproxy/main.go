// icyproxy pulls a SHOUTcast/ICY stream from an upstream radio server and
// fans it out to listeners over a lightweight UDP protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/streamrelay/streamrelay/internal/config"
	"github.com/streamrelay/streamrelay/internal/fanout"
	"github.com/streamrelay/streamrelay/internal/icy"
)

var version = "dev"

func main() {
	logger := log.New(os.Stdout, "[icyproxy] ", log.LstdFlags|log.Lmsgprefix)
	printBanner()

	cfg, err := config.ParseProxyConfig(os.Args[1:])
	if err != nil {
		logger.Fatalf("invalid arguments: %v", err)
	}

	var geo *fanout.GeoResolver
	if cfg.GeoIPPath != "" {
		geo, err = fanout.NewGeoResolver(cfg.GeoIPPath, logger)
		if err != nil {
			logger.Printf("GeoIP database unavailable, continuing without enrichment: %v", err)
			geo = nil
		} else {
			defer geo.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := icy.NewReader(icy.Options{
		Host:     cfg.Host,
		Resource: cfg.Resource,
		Port:     cfg.Port,
		Timeout:  cfg.Timeout,
		WantMeta: cfg.WantMeta,
	})
	if err := reader.Open(ctx); err != nil {
		logger.Fatalf("failed to open upstream stream: %v", err)
	}
	defer reader.Close()
	logger.Printf("connected to upstream, radio_info=%s", reader.RadioInfo())

	var broadcaster fanout.Broadcaster
	if cfg.ListenPort > 0 {
		udpBroadcaster, err := fanout.NewUDPBroadcaster(fanout.Config{
			ListenAddr:     fmt.Sprintf(":%d", cfg.ListenPort),
			Timeout:        cfg.ClientTimeout,
			RadioInfo:      reader.RadioInfo(),
			MulticastGroup: cfg.MulticastGroup,
			TTL:            1,
			Logger:         logger,
			Geo:            geo,
		})
		if err != nil {
			logger.Fatalf("failed to start UDP broadcaster: %v", err)
		}
		defer udpBroadcaster.Close()
		go func() {
			if err := udpBroadcaster.Run(ctx); err != nil {
				logger.Printf("broadcaster control loop exited: %v", err)
			}
		}()
		broadcaster = udpBroadcaster
		logger.Printf("broadcasting on UDP port %d", cfg.ListenPort)
	} else {
		broadcaster = fanout.NewStdoutBroadcaster(os.Stdout.Write, func(meta string) {
			fmt.Fprintln(os.Stderr, meta)
		})
		logger.Println("no listen port given, writing audio to stdout and metadata to stderr")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Printf("received %v, shutting down...", s)
		cancel()
	}()

	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			logger.Println("icyproxy shutdown complete")
			return
		default:
		}

		part, err := reader.ReadChunk(buf)
		if err != nil {
			logger.Printf("upstream read failed: %v", err)
			return
		}

		if err := broadcaster.Broadcast(buf[:part.Size], part.Meta, part.MetaPresent); err != nil {
			logger.Printf("broadcast failed: %v", err)
		}
	}
}

func printBanner() {
	banner := `
  icyproxy %s
  ICY/SHOUTcast stream proxy and UDP fan-out gateway
`
	fmt.Printf(banner, version)
}
