// Command collect records a play session: frames from the game at a fixed
// rate, the button state on every frame, and the touch commands mirrored to
// the device whenever the button changes.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/swingbot/internal/capture"
	"github.com/banshee-data/swingbot/internal/config"
	"github.com/banshee-data/swingbot/internal/device"
	"github.com/banshee-data/swingbot/internal/fsutil"
	"github.com/banshee-data/swingbot/internal/registry"
	"github.com/banshee-data/swingbot/internal/session"
	"github.com/banshee-data/swingbot/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to JSON or YAML config file")
	listen     = flag.String("listen", "", "Debug HTTP listen address (empty disables)")
	port       = flag.String("port", "", "Serial port for the touch controller (overrides config)")
	baud       = flag.Int("baud", device.DefaultBaudRate, "Serial baud rate")
	noSerial   = flag.Bool("no-serial", false, "Use an in-memory device instead of the serial port")
	replay     = flag.String("replay", "", "Replay frames from a directory instead of the snapshot URL")
	fps        = flag.Float64("fps", 0, "Capture rate limit (overrides config)")
	noRegistry = flag.Bool("no-registry", false, "Do not record the session in the registry")
)

func main() {
	flag.Parse()
	log.Printf("collect %s", version.String())

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	fpsLimit := cfg.GetFPSLimit()
	if *fps > 0 {
		fpsLimit = *fps
	}
	serialPort := cfg.GetSerialPort()
	if *port != "" {
		serialPort = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var link *device.Link
	if *noSerial {
		link = device.NewLink(device.NewTestablePort())
		log.Print("serial disabled, using in-memory device")
	} else {
		link, err = device.Open(serialPort, device.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("failed to open device: %v", err)
		}
		log.Printf("opened device on %s", serialPort)
	}
	defer link.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("device monitor stopped: %v", err)
		}
	}()

	fsys := fsutil.OSFileSystem{}
	var source capture.FrameSource
	if *replay != "" {
		dirSource, err := capture.NewDirSource(fsys, *replay)
		if err != nil {
			log.Fatalf("failed to open replay directory: %v", err)
		}
		log.Printf("replaying %d frames from %s", dirSource.Remaining(), *replay)
		source = dirSource
	} else {
		source = capture.NewSnapshotSource(cfg.GetSnapshotURL(), time.Second)
	}

	started := time.Now()
	dir := session.NewDir(cfg.GetDataRoot(), started)
	rec, err := session.NewRecorder(fsys, dir)
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	log.Printf("recording session %s", dir)

	var (
		reg       *registry.Registry
		sessionID string
	)
	if !*noRegistry {
		reg, err = registry.Open(cfg.GetRegistryPath())
		if err != nil {
			log.Fatalf("failed to open registry: %v", err)
		}
		defer reg.Close()
		sessionID, err = reg.StartSession(dir, started)
		if err != nil {
			log.Fatalf("failed to register session: %v", err)
		}
	}

	if *listen != "" {
		mux := http.NewServeMux()
		link.AttachAdminRoutes(mux, cfg.GetTouchX(), cfg.GetTouchY())
		if reg != nil {
			reg.AttachAdminRoutes(mux)
		}
		server := &http.Server{Addr: *listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown: %v", err)
			}
		}()
		log.Printf("debug server listening on %s", *listen)
	}

	syncer := capture.New(capture.Config{
		FPSLimit:       fpsLimit,
		TouchX:         cfg.GetTouchX(),
		TouchY:         cfg.GetTouchY(),
		NoFrameBackoff: cfg.GetNoFrameBackoff(),
	}, source, device.Touch{C: link}, device.Buttons{S: link}, rec)

	runErr := syncer.Run(ctx)
	stats := syncer.Stats()
	log.Printf("session %s: %d frames, %d misses, %d starts, %d stops, %d actuator errors, %d write errors",
		dir, stats.Frames, stats.Misses, stats.Starts, stats.Stops, stats.ActuatorErrors, stats.WriteErrors)

	if reg != nil {
		counts := registry.SessionCounts{Frames: stats.Frames, Misses: stats.Misses, Starts: stats.Starts, Stops: stats.Stops}
		if err := reg.FinishSession(sessionID, time.Now(), counts); err != nil {
			log.Printf("failed to finish session in registry: %v", err)
		}
	}

	stop()
	wg.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("capture failed: %v", runErr)
	}
}
