// Command dataset builds the stacked-frame sample set from recorded
// sessions and prints per-session counts and the label balance. With
// -verify it only checks that every session's action rows match its frame
// files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/banshee-data/swingbot/internal/config"
	"github.com/banshee-data/swingbot/internal/dataset"
	"github.com/banshee-data/swingbot/internal/fsutil"
	"github.com/banshee-data/swingbot/internal/session"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to JSON or YAML config file")
	root       = flag.String("root", "", "Session root directory (overrides config)")
	stackSize  = flag.Int("stack", 0, "Frames per window (overrides config)")
	workers    = flag.Int("workers", 0, "Parallel decode workers (overrides config)")
	verify     = flag.Bool("verify", false, "Check action rows against frame files and exit")
	sample     = flag.Int("sample", -1, "Print the window paths of one sample")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	dataRoot := cfg.GetDataRoot()
	if *root != "" {
		dataRoot = *root
	}
	fsys := fsutil.OSFileSystem{}

	if *verify {
		if !runVerify(fsys, dataRoot) {
			os.Exit(1)
		}
		return
	}

	k := cfg.GetStackSize()
	if *stackSize > 0 {
		k = *stackSize
	}
	w := cfg.GetPreloadWorkers()
	if *workers > 0 {
		w = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := dataset.Build(ctx, dataset.Options{
		Root:      dataRoot,
		StackSize: k,
		Width:     cfg.GetFrameWidth(),
		Height:    cfg.GetFrameHeight(),
		Workers:   w,
		FS:        fsys,
	})
	if err != nil {
		log.Fatalf("failed to build dataset: %v", err)
	}

	sum := ds.Summary()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSAMPLES\tDROPPED\tSKIPPED")
	for _, s := range sum.Sessions {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Dir, s.Samples, s.Dropped, s.Skipped)
	}
	for _, r := range sum.Rejected {
		fmt.Fprintf(tw, "%s\trejected: %s\t\t\n", r.Dir, r.Reason)
	}
	tw.Flush()
	fmt.Printf("total samples: %d (stack size %d)\n", sum.Total, ds.StackSize())
	fmt.Printf("label balance: %.1f%% hold, %.1f%% release\n", 100*sum.HoldFraction, 100*(1-sum.HoldFraction))
	fmt.Printf("frame cache: %d decoded, %d failed\n", sum.Cache.Decoded, sum.Cache.Failed)

	if *sample >= 0 {
		s, err := ds.Get(*sample)
		if err != nil {
			log.Fatalf("sample %d: %v", *sample, err)
		}
		fmt.Printf("sample %d label=%d\n", *sample, s.Label)
		for i, p := range s.Paths {
			if p == dataset.Pad {
				p = "<pad>"
			}
			fmt.Printf("  [%d] %s\n", i, p)
		}
	}
}

// runVerify prints one line per session and reports whether all of them
// were consistent.
func runVerify(fsys fsutil.FileSystem, dataRoot string) bool {
	dirs, err := session.Discover(fsys, dataRoot)
	if err != nil {
		log.Fatalf("failed to list sessions: %v", err)
	}
	ok := true
	for _, dir := range dirs {
		rep, err := session.Verify(fsys, dir)
		if err != nil {
			log.Printf("%s: %v", dir, err)
			ok = false
			continue
		}
		fmt.Println(rep)
		if rep.Mismatch() {
			ok = false
		}
	}
	if len(dirs) == 0 {
		log.Printf("no sessions found under %s", dataRoot)
	}
	return ok
}
