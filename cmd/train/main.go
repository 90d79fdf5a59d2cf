// Command train drives the policy service. In the default online mode it
// runs rollouts against the live game: the service picks actions and
// learns from each rollout, and the game is resumed only while steps are
// being collected. -mode bc pretrains the policy on recorded sessions by
// behaviour cloning, and -mode play evaluates the current policy on the
// live game without updating it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/swingbot/internal/capture"
	"github.com/banshee-data/swingbot/internal/config"
	"github.com/banshee-data/swingbot/internal/dataset"
	"github.com/banshee-data/swingbot/internal/device"
	"github.com/banshee-data/swingbot/internal/phase"
	"github.com/banshee-data/swingbot/internal/policyclient"
	"github.com/banshee-data/swingbot/internal/pretrain"
	"github.com/banshee-data/swingbot/internal/registry"
	"github.com/banshee-data/swingbot/internal/report"
	"github.com/banshee-data/swingbot/internal/rollout"
	"github.com/banshee-data/swingbot/internal/version"
)

var (
	configPath    = flag.String("config", config.DefaultConfigPath, "Path to JSON or YAML config file")
	mode          = flag.String("mode", "online", "One of online, bc or play")
	listen        = flag.String("listen", "", "Debug HTTP listen address (empty disables)")
	port          = flag.String("port", "", "Serial port for the touch controller (overrides config)")
	baud          = flag.Int("baud", device.DefaultBaudRate, "Serial baud rate")
	noSerial      = flag.Bool("no-serial", false, "Use an in-memory device instead of the serial port")
	totalSteps    = flag.Int("steps", 100000, "Total environment steps to train for")
	policyTimeout = flag.Duration("policy-timeout", 30*time.Second, "Policy service request timeout")
	plotPath      = flag.String("plot", "rewards.png", "Write the reward curve PNG here (empty disables)")

	epochs    = flag.Int("epochs", pretrain.DefaultEpochs, "Behaviour cloning epochs (bc mode)")
	batchSize = flag.Int("batch", pretrain.DefaultBatchSize, "Behaviour cloning batch size (bc mode)")
	seed      = flag.Int64("seed", 0, "Shuffle seed for bc mode (0 seeds from the clock)")
	episodes  = flag.Int("episodes", 5, "Episodes to play (play mode)")
	maxSteps  = flag.Int("max-steps", 0, "Step cap per played episode (0 is no cap)")
)

func main() {
	flag.Parse()
	log.Printf("train %s (%s mode)", version.String(), *mode)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := policyclient.New(cfg.GetPolicyURL(), *policyTimeout)

	switch *mode {
	case "bc":
		runBC(ctx, cfg, client)
	case "online", "play":
		link, closeLink := openDevice(cfg)
		defer closeLink()
		if *mode == "play" {
			runPlay(ctx, cfg, link, client)
		} else {
			runOnline(ctx, cfg, link, client)
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

// openDevice opens the controller link and starts its monitor. The monitor
// outlives the signal context so the final pause can still be written.
func openDevice(cfg *config.Config) (*device.Link, func()) {
	serialPort := cfg.GetSerialPort()
	if *port != "" {
		serialPort = *port
	}

	var link *device.Link
	if *noSerial {
		link = device.NewLink(device.NewTestablePort())
		log.Print("serial disabled, using in-memory device")
	} else {
		var err error
		link, err = device.Open(serialPort, device.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("failed to open device: %v", err)
		}
		log.Printf("opened device on %s", serialPort)
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(monitorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("device monitor stopped: %v", err)
		}
	}()
	return link, func() {
		stopMonitor()
		wg.Wait()
		link.Close()
	}
}

func newEnv(cfg *config.Config, link *device.Link, scorer rollout.Scorer) *rollout.Env {
	return rollout.NewEnv(rollout.EnvConfig{
		TouchX:         cfg.GetTouchX(),
		TouchY:         cfg.GetTouchY(),
		StackSize:      cfg.GetStackSize(),
		Width:          cfg.GetFrameWidth(),
		Height:         cfg.GetFrameHeight(),
		NoFrameBackoff: cfg.GetNoFrameBackoff(),
	}, capture.NewSnapshotSource(cfg.GetSnapshotURL(), time.Second), device.Touch{C: link}, scorer)
}

// serveDebug starts the debug HTTP server when -listen is set and returns
// its shutdown function.
func serveDebug(mux *http.ServeMux) func() {
	if *listen == "" {
		return func() {}
	}
	server := &http.Server{Addr: *listen, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()
	log.Printf("debug server listening on %s", *listen)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("debug server shutdown: %v", err)
		}
	}
}

func logCounters(sched *phase.Scheduler) phase.Counters {
	c := sched.Counters()
	log.Printf("phase scheduler: %d transitions, %d pause failures, %d unpause failures, %d ignored hooks",
		c.Transitions, c.PauseFailures, c.UnpauseFailures, c.Ignored)
	return c
}

func runOnline(ctx context.Context, cfg *config.Config, link *device.Link, client *policyclient.Client) {
	reg, err := registry.Open(cfg.GetRegistryPath())
	if err != nil {
		log.Fatalf("failed to open registry: %v", err)
	}
	defer reg.Close()

	runID, err := reg.StartRun(time.Now(), *totalSteps)
	if err != nil {
		log.Fatalf("failed to register run: %v", err)
	}
	log.Printf("training run %s for %d steps", runID, *totalSteps)

	mux := http.NewServeMux()
	link.AttachAdminRoutes(mux, cfg.GetTouchX(), cfg.GetTouchY())
	reg.AttachAdminRoutes(mux)
	mux.Handle("/rewards", report.ChartHandler(fmt.Sprintf("run %s", runID), func() ([]report.RewardPoint, error) {
		recs, err := reg.Rollouts(runID)
		if err != nil {
			return nil, err
		}
		return report.FromRecords(recs), nil
	}))
	defer serveDebug(mux)()

	// The scheduler starts in the update phase and the first rollout
	// resumes the game.
	sched := phase.NewScheduler(device.Pauser{C: link}, cfg.GetPauseTimeout())

	trainer, err := rollout.NewTrainer(rollout.TrainerConfig{
		RolloutSteps: cfg.GetRolloutSteps(),
	}, newEnv(cfg, link, client), client, client, sched)
	if err != nil {
		log.Fatalf("failed to create trainer: %v", err)
	}
	trainer.OnRollout = func(s rollout.Summary) {
		rec := registry.RolloutRecord{
			RunID:        runID,
			Index:        s.Index,
			Steps:        s.Steps,
			Episodes:     s.Episodes,
			TotalReward:  s.TotalReward,
			MeanReward:   s.MeanReward,
			StdReward:    s.StdReward,
			PolicyErrors: s.PolicyErrors,
			UpdateFailed: s.UpdateFailed,
			Interrupted:  s.Interrupted,
			StartedAt:    s.Started,
			Duration:     s.Duration,
		}
		if err := reg.RecordRollout(rec); err != nil {
			log.Printf("failed to record rollout %d: %v", s.Index, err)
		}
	}

	summaries, runErr := trainer.Run(ctx, *totalSteps)

	status := registry.StatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = registry.StatusInterrupted
		log.Print("training interrupted")
	default:
		status = registry.StatusFailed
		log.Printf("training failed: %v", runErr)
	}

	c := logCounters(sched)
	if err := reg.FinishRun(runID, time.Now(), status, c.PauseFailures, c.UnpauseFailures); err != nil {
		log.Printf("failed to finish run in registry: %v", err)
	}

	if *plotPath != "" && len(summaries) > 0 {
		if err := report.SaveRewardPlot(*plotPath, fmt.Sprintf("run %s", runID), report.FromSummaries(summaries)); err != nil {
			log.Printf("failed to save reward plot: %v", err)
		} else {
			log.Printf("reward plot written to %s", *plotPath)
		}
	}
}

func runPlay(ctx context.Context, cfg *config.Config, link *device.Link, client *policyclient.Client) {
	mux := http.NewServeMux()
	link.AttachAdminRoutes(mux, cfg.GetTouchX(), cfg.GetTouchY())
	defer serveDebug(mux)()

	sched := phase.NewScheduler(device.Pauser{C: link}, cfg.GetPauseTimeout())
	eps, err := rollout.Play(ctx, rollout.PlayConfig{
		Episodes: *episodes,
		MaxSteps: *maxSteps,
	}, newEnv(cfg, link, client), client, sched)

	for _, ep := range eps {
		log.Printf("episode %d: %d steps, total reward %.4f, finished=%v, %d policy errors",
			ep.Index+1, ep.Steps, ep.TotalReward, ep.Finished, ep.PolicyErrors)
	}
	logCounters(sched)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Print("play interrupted")
	default:
		log.Printf("play failed: %v", err)
	}
}

func runBC(ctx context.Context, cfg *config.Config, client *policyclient.Client) {
	ds, err := dataset.Build(ctx, dataset.Options{
		Root:      cfg.GetDataRoot(),
		StackSize: cfg.GetStackSize(),
		Width:     cfg.GetFrameWidth(),
		Height:    cfg.GetFrameHeight(),
		Workers:   cfg.GetPreloadWorkers(),
	})
	if err != nil {
		log.Fatalf("failed to build dataset: %v", err)
	}
	sum := ds.Summary()
	log.Printf("dataset: %d samples from %d sessions (%d rejected), %.1f%% hold",
		sum.Total, len(sum.Sessions), len(sum.Rejected), 100*sum.HoldFraction)

	trainer, err := pretrain.NewTrainer(pretrain.Config{
		Epochs:    *epochs,
		BatchSize: *batchSize,
		Seed:      *seed,
	}, ds, client)
	if err != nil {
		log.Fatalf("failed to create trainer: %v", err)
	}

	_, err = trainer.Run(ctx)
	switch {
	case err == nil:
		log.Print("behaviour cloning finished")
	case errors.Is(err, context.Canceled):
		log.Print("behaviour cloning interrupted")
	default:
		log.Fatalf("behaviour cloning failed: %v", err)
	}
}
