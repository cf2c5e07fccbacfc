// Command reproject runs the pose-correlation client: it samples predicted
// head poses, ships them to a remote renderer over UDP keyed by frame
// index, and presents returning frames with the pose they were rendered
// under. A small HTTP surface exposes counters and latency diagnostics.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/reproject/internal/config"
	"github.com/banshee-data/reproject/internal/diag"
	"github.com/banshee-data/reproject/internal/headtrack"
	"github.com/banshee-data/reproject/internal/monitor"
	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/posedb"
	"github.com/banshee-data/reproject/internal/render"
	"github.com/banshee-data/reproject/internal/session"
	"github.com/banshee-data/reproject/internal/timeutil"
	"github.com/banshee-data/reproject/internal/transport"
	"github.com/banshee-data/reproject/internal/version"
)

var (
	rendererAddr = flag.String("renderer", "127.0.0.1:15243", "remote renderer UDP address")
	listen       = flag.String("listen", ":8080", "monitor HTTP listen address (empty disables)")
	dbFile       = flag.String("db", "pose_diag.db", "diagnostics sqlite path (empty disables)")
	tuningPath   = flag.String("config", "", "tuning JSON path (empty uses defaults)")
	serialPort   = flag.String("serial", "", "IMU bridge serial device (empty uses a fixed pose)")
	fixtures     = flag.String("fixtures", "", "pose fixture file replayed instead of a live bridge")
	refresh      = flag.Duration("refresh", render.DefaultRefreshInterval, "frame pacing interval")
	verbose      = flag.Bool("verbose", false, "enable debug logging")
	showVersion  = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		log.Printf("reproject %s", version.String())
		return
	}
	diag.SetVerbose(*verbose)

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("load tuning config: %v", err)
		}
	}

	clock := timeutil.RealClock{}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Head tracking: a live serial bridge, a replayed fixture file, or a
	// pinned identity pose for bench runs against a renderer.
	var provider headtrack.Provider
	switch {
	case *serialPort != "":
		port, err := headtrack.OpenTrackerPort(*serialPort, tuning.GetSerialBaud())
		if err != nil {
			log.Fatalf("open tracker port: %v", err)
		}
		defer port.Close()
		provider = runSerialProvider(ctx, &wg, port)
	case *fixtures != "":
		f, err := os.Open(*fixtures)
		if err != nil {
			log.Fatalf("open fixtures file: %v", err)
		}
		defer f.Close()
		port := &headtrack.MockPort{Data: f, EventsChan: make(chan string)}
		provider = runSerialProvider(ctx, &wg, port)
	default:
		provider = headtrack.NewStaticProvider(pose.Identity())
	}

	channel, err := transport.Dial(*rendererAddr)
	if err != nil {
		log.Fatalf("dial renderer %s: %v", *rendererAddr, err)
	}
	defer channel.Close()

	var store *posedb.Store
	if *dbFile != "" {
		store, err = posedb.Open(*dbFile)
		if err != nil {
			log.Fatalf("open diagnostics db: %v", err)
		}
		defer store.Close()
	}

	sampler := headtrack.NewSampler(provider, clock, tuning.SamplerConfig())
	surface := render.NewOffscreenSurface(clock, *refresh, 1024, 1024)

	sess, err := session.New(surface, sampler, channel, store, clock, tuning.RenderConfig())
	if err != nil {
		log.Fatalf("create session: %v", err)
	}
	defer sess.Close()

	if *listen != "" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address:      *listen,
			Stats:        sess.Stats,
			ChannelStats: channel.Stats,
			DB:           store,
			SessionID:    sess.ID,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("monitor server: %v", err)
			}
		}()
	}

	log.Printf("reproject %s session %s -> %s", version.String(), sess.ID, *rendererAddr)
	if err := sess.Run(ctx); err != nil {
		log.Printf("session ended: %v", err)
	}

	stop()
	if err := sess.Close(); err != nil {
		log.Printf("close session: %v", err)
	}
	waitTimeout(&wg, 5*time.Second)
}

// runSerialProvider starts the bridge consumer goroutine and returns the
// provider backed by it.
func runSerialProvider(ctx context.Context, wg *sync.WaitGroup, port headtrack.Port) *headtrack.SerialProvider {
	provider := headtrack.NewSerialProvider(port)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := provider.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("tracker bridge stopped: %v", err)
		}
	}()
	return provider
}

// waitTimeout waits for the group but gives up after d so a wedged
// goroutine cannot hold the process open on shutdown.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		log.Printf("shutdown wait timed out")
	}
}
