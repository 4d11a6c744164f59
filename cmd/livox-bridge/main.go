package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/livox.bridge/internal/config"
	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/journal"
	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/livox/network"
	"github.com/banshee-data/livox.bridge/internal/livox/synthetic"
	"github.com/banshee-data/livox.bridge/internal/monitor"
	"github.com/banshee-data/livox.bridge/internal/rpc"
	"github.com/banshee-data/livox.bridge/internal/version"
)

var (
	configFile  = flag.String("config", config.DefaultConfigPath, "Host parameter file (JSON)")
	watchConfig = flag.Bool("watch", true, "Reload the host parameter file when it changes")
	active      = flag.Bool("active", false, "Start the sensor session regardless of the config file's active field")
	driver      = flag.String("driver", "udp", "Point source: udp, replay or synthetic")
	pcapFile    = flag.String("pcap", "", "Capture file to replay (driver=replay)")
	replaySpeed = flag.Float64("replay-speed", 1.0, "Replay speed multiplier (driver=replay)")
	replayLoop  = flag.Bool("replay-loop", false, "Restart the capture when it ends (driver=replay)")
	bindIP      = flag.String("bind", "", "Address to bind the host UDP ports on (default: all interfaces)")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval = flag.Int("log-interval", 60, "Statistics logging interval in seconds")
	listen      = flag.String("listen", ":8082", "HTTP listen address (empty disables)")
	grpcListen  = flag.String("grpc-listen", ":50061", "gRPC listen address (empty disables)")
	dbFile      = flag.String("db", "livox_journal.db", "Session journal SQLite file (empty disables)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func buildSDK(stats *network.PacketStats) (livox.SDK, error) {
	switch *driver {
	case "udp":
		return network.NewUDPSDK(network.UDPConfig{
			BindIP:      *bindIP,
			RcvBuf:      *rcvBuf,
			Stats:       stats,
			LogInterval: time.Duration(*logInterval) * time.Second,
		}), nil
	case "replay":
		if *pcapFile == "" {
			return nil, fmt.Errorf("-pcap is required with -driver=replay")
		}
		return network.NewReplaySDK(network.ReplayConfig{
			Path:            *pcapFile,
			SpeedMultiplier: *replaySpeed,
			Loop:            *replayLoop,
			Stats:           stats,
		}), nil
	case "synthetic":
		return synthetic.NewDriver(synthetic.Config{Seed: time.Now().UnixNano()}), nil
	default:
		return nil, fmt.Errorf("unknown driver %q (want udp, replay or synthetic)", *driver)
	}
}

// overrides returns the config fields forced on the command line.
func overrides() *config.HostConfig {
	o := config.EmptyHostConfig()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "active" {
			v := *active
			o.Active = &v
		}
	})
	return o
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Printf("%s starting (driver=%s)", version.String(), *driver)

	cfg, err := config.LoadHostConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	forced := overrides()
	cfg = cfg.Merge(forced)

	stats := network.NewPacketStats()
	sdk, err := buildSDK(stats)
	if err != nil {
		log.Fatalf("failed to create driver: %v", err)
	}

	opts := host.Options{Config: cfg, Driver: *driver}
	var store *journal.Store
	if *dbFile != "" {
		store, err = journal.OpenStore(*dbFile)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer store.Close()
		opts.Journal = store
	}

	h := host.New(livox.NewDevice(sdk), opts)
	defer h.Close()

	if *watchConfig {
		w, err := config.Watch(*configFile, func(c *config.HostConfig) {
			h.SetConfig(c.Merge(forced))
		})
		if err != nil {
			log.Printf("config watch disabled: %v", err)
		} else {
			defer w.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := h.Run(ctx); err != nil {
			log.Printf("cook loop error: %v", err)
		}
		log.Print("cook loop terminated")
	}()

	if *listen != "" {
		webCfg := monitor.WebServerConfig{Address: *listen, Source: h, Stats: stats, Driver: *driver}
		if store != nil {
			webCfg.Sessions = store
		}
		ws := monitor.NewWebServer(webCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("HTTP server error: %v", err)
				stop()
			}
		}()
	}

	if *grpcListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rpc.ListenAndServe(ctx, *grpcListen, rpc.NewServer(h, *driver)); err != nil {
				log.Printf("gRPC server error: %v", err)
				stop()
			}
		}()
	}

	if r, ok := sdk.(*network.ReplaySDK); ok && !*replayLoop {
		wg.Add(1)
		go func() {
			defer wg.Done()
			waitReplay(ctx, h, r)
			stop()
		}()
	}

	<-ctx.Done()
	wg.Wait()
	log.Print("shutdown complete")
}

// waitReplay returns once a started replay has finished and the buffer has
// been drained by the cook loop.
func waitReplay(ctx context.Context, h *host.Host, r *network.ReplaySDK) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		if !h.Device().IsRunning() {
			continue
		}
		select {
		case <-r.Done():
		default:
			continue
		}
		if h.Device().BufferedSamples() > 0 {
			continue
		}
		if err := r.Err(); err != nil {
			log.Printf("replay failed: %v", err)
		} else {
			log.Printf("replay finished: %d packets", r.Packets())
		}
		return
	}
}
