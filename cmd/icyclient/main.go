// icyclient discovers icyproxy gateways on the local network and drives a
// menu UI over TELNET for selecting one to listen to.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamrelay/streamrelay/internal/config"
	"github.com/streamrelay/streamrelay/internal/discovery"
	"github.com/streamrelay/streamrelay/internal/model"
	"github.com/streamrelay/streamrelay/internal/telnet"
)

var version = "dev"

func main() {
	logger := log.New(os.Stdout, "[icyclient] ", log.LstdFlags|log.Lmsgprefix)
	printBanner()

	cfg, err := config.ParseClientConfig(os.Args[1:])
	if err != nil {
		logger.Fatalf("invalid arguments: %v", err)
	}

	cachePath := cfg.CachePath
	if cachePath == "" {
		cachePath = discovery.DefaultCachePath()
	}
	cached := discovery.LoadCache(cachePath)
	if len(cached) > 0 {
		logger.Printf("loaded %d cached proxies from %s", len(cached), cachePath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan model.Event, 256)

	disc, err := discovery.NewClient(discovery.Config{
		ListenPort:    cfg.ListenPort,
		BroadcastAddr: fmt.Sprintf("%s:%d", cfg.BindHost, cfg.ListenPort),
		Logger:        logger,
	}, events)
	if err != nil {
		logger.Fatalf("failed to start discovery client: %v", err)
	}
	defer disc.Close()

	for _, p := range cached {
		select {
		case events <- model.IamReceived{ID: p.ID, Ts: time.Now(), Addr: p.Addr, RadioInfo: p.RadioInfo}:
		default:
			logger.Printf("event queue full while seeding cached proxies, dropping %s", p.RadioInfo)
		}
	}

	telnetSrv, err := telnet.NewServer(cfg.TelnetPort, events, logger)
	if err != nil {
		logger.Fatalf("failed to start TELNET server: %v", err)
	}
	defer telnetSrv.Close()

	m := model.New(events, model.Config{
		Discoverer:   disc,
		KeepAliver:   disc,
		Renderer:     telnetSrv,
		AudioSink:    os.Stdout,
		Logger:       logger,
		Shutdown:     cancel,
		ProxyTimeout: cfg.Timeout,
	})

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	go func() {
		if err := disc.Run(ctx); err != nil {
			logger.Printf("discovery client exited: %v", err)
			select {
			case events <- model.DiscoveryCrashed{Err: err}:
			default:
			}
		}
	}()
	go func() {
		if err := telnetSrv.Run(ctx); err != nil {
			logger.Printf("TELNET server exited: %v", err)
			select {
			case events <- model.TelnetCrashed{Err: err}:
			default:
			}
		}
	}()

	if err := disc.Discover(); err != nil {
		logger.Printf("initial discovery send failed: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Printf("received %v, shutting down...", s)
		cancel()
	}()

	m.Run(stop)

	snapshot := m.Snapshot()
	if len(snapshot) > 0 {
		proxies := make([]discovery.ProxyInfo, 0, len(snapshot))
		for _, p := range snapshot {
			proxies = append(proxies, discovery.ProxyInfo{ID: p.ID, Addr: p.Addr, RadioInfo: p.RadioInfo})
		}
		if err := discovery.SaveCache(cachePath, proxies); err != nil {
			logger.Printf("failed to save proxy cache: %v", err)
		}
	}

	logger.Println("icyclient shutdown complete")
}

func printBanner() {
	banner := `
  icyclient %s
  discovers and tunes in to icyproxy gateways over TELNET
`
	fmt.Printf(banner, version)
}
