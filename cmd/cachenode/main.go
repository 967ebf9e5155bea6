// Command cachenode runs one node of the distributed cache cluster: it
// loads configuration, starts the cache manager, cluster transport,
// membership tracking, coordinator, and prefetch subsystem, and serves
// until an interrupt or termination signal arrives.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distcache/distcache/cacheservice"
	"github.com/distcache/distcache/internal/cachemanager"
	"github.com/distcache/distcache/internal/config"
	"github.com/distcache/distcache/internal/coordinator"
	"github.com/distcache/distcache/internal/membership"
	"github.com/distcache/distcache/internal/prefetch"
	"github.com/distcache/distcache/internal/transport"
)

const shutdownGrace = 10 * time.Second

func main() {
	log.Println("cachenode: starting")

	cfg, err := config.Load("/etc/distcache", "$HOME/.distcache")
	if err != nil {
		log.Fatalf("cachenode: config load failed: %v", err)
	}
	log.Printf("cachenode: loaded config for node %s, %d known peers", cfg.Cluster.NodeID, len(cfg.Cluster.Discovery.Peers))

	manager := cachemanager.New()

	sender := transport.NewSender(cfg.Cluster.NodeID, transport.SenderOptions{
		ConnectTimeout: cfg.Cluster.ConnectTimeout(),
		ReadTimeout:    cfg.Cluster.ReadTimeout(),
		MaxAttempts:    cfg.Cluster.Communication.MaxRetryAttempts,
		BackoffBase:    cfg.Cluster.BackoffBase(),
		FailureRatio:   cfg.Cluster.Communication.BreakerFailRatio,
		MinRequests:    uint32(cfg.Cluster.Communication.BreakerMinReqs),
		OpenDuration:   cfg.Cluster.BreakerOpenDuration(),
	})
	defer sender.Close()

	mem := membership.New(cfg.Cluster.NodeID, cfg.Cluster.Discovery.Peers, sender, membership.Options{
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval(),
		PeerTimeout:       cfg.Cluster.PeerTimeout(),
		MaxFailures:       cfg.Cluster.Heartbeat.MaxFailures,
	})

	coord := coordinator.New(cfg.Cluster.NodeID, sender, mem, manager, coordinator.Options{})

	receiver := transport.NewReceiver(coord.HandleInbound, transport.ReceiverOptions{
		ReadTimeout: cfg.Cluster.ReadTimeout(),
	})

	pf := prefetch.New(manager, prefetch.Options{})

	svc := cacheservice.New(cfg.Cluster.NodeID, manager, coord, pf)
	for name := range cfg.CacheOverrides {
		svc.ConfigureCache(name, cfg.CacheConfiguration(name))
	}
	log.Printf("cachenode: configured %d cache(s) from cache_overrides", len(cfg.CacheOverrides))

	if err := receiver.Start(cfg.Cluster.Listen); err != nil {
		log.Fatalf("cachenode: failed to bind %s: %v", cfg.Cluster.Listen, err)
	}
	log.Printf("cachenode: listening on %s", cfg.Cluster.Listen)

	mem.Start()
	coord.Start()
	pf.Start(time.Minute)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("cachenode: shutting down")
	receiver.Stop(shutdownGrace)
	coord.Stop(shutdownGrace)
	mem.Stop(shutdownGrace)
	pf.Stop(shutdownGrace)
	log.Println("cachenode: stopped")
}
