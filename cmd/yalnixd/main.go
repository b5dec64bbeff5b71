// Command yalnixd boots the terminal driver, the kernel and the file
// server together as one simulated host: a terminal bank over
// simulated hardware, a scheduler driven by a wall-clock tick, and a
// file server dispatcher reachable over a Unix-domain socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hycheng/yalnix/fsserver"
	"github.com/hycheng/yalnix/internal/ipc"
	"github.com/hycheng/yalnix/internal/metrics"
	"github.com/hycheng/yalnix/kernel"
	"github.com/hycheng/yalnix/tty"
)

// config is decoded from flags by cobra; the knob set is small enough
// that plain flags beat pulling in a config-file layer.
type config struct {
	DiskPath   string
	DiskBlocks uint32
	DiskInodes uint32

	BlockCacheSize int
	InodeCacheSize int

	ListenNet  string
	ListenAddr string

	NumTerminals   int
	NumFrames      int
	ReservedFrames int
	ProgramDir     string

	TickInterval time.Duration
	MetricsAddr  string
}

func main() {
	cfg := &config{}
	root := &cobra.Command{
		Use:   "yalnixd",
		Short: "Runs the terminal driver, kernel and file server as one simulated host.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	f := root.Flags()
	f.StringVar(&cfg.DiskPath, "disk", "yalnix.img", "path to the file server disk image")
	f.Uint32Var(&cfg.DiskBlocks, "disk-blocks", 4096, "block count for a freshly formatted disk image")
	f.Uint32Var(&cfg.DiskInodes, "disk-inodes", 512, "inode count for a freshly formatted disk image")
	f.IntVar(&cfg.BlockCacheSize, "block-cache-size", 0, "block cache capacity (0 = fsserver default)")
	f.IntVar(&cfg.InodeCacheSize, "inode-cache-size", 0, "inode cache capacity (0 = fsserver default)")
	f.StringVar(&cfg.ListenNet, "listen-net", "unix", "fsserver transport network (\"unix\" or \"chan\")")
	f.StringVar(&cfg.ListenAddr, "listen-addr", "yalnixd.sock", "fsserver transport address")
	f.IntVar(&cfg.NumTerminals, "terminals", 4, "number of simulated terminals")
	f.IntVar(&cfg.NumFrames, "frames", 4096, "physical frame count")
	f.IntVar(&cfg.ReservedFrames, "reserved-frames", 64, "frames reserved for the kernel itself")
	f.StringVar(&cfg.ProgramDir, "programs", "./programs", "directory FileLoader loads program images from")
	f.DurationVar(&cfg.TickInterval, "tick", 10*time.Millisecond, "wall-clock interval between simulated clock ticks")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "address to serve /metrics on (empty disables it)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		log.Fatalf("yalnixd: %v", err)
	}
}

func run(ctx context.Context, cfg *config) error {
	reg := metrics.New()

	fs, err := openOrFormatDisk(cfg, reg)
	if err != nil {
		return fmt.Errorf("yalnixd: disk: %w", err)
	}

	hw := tty.NewSimHardware(cfg.NumTerminals)
	driver := tty.NewDriver(cfg.NumTerminals, hw)
	driver.SetMetrics(reg)
	if err := driver.InitDriver(); err != nil {
		return fmt.Errorf("yalnixd: tty: %w", err)
	}
	for t := 0; t < cfg.NumTerminals; t++ {
		if err := driver.InitTerminal(t); err != nil {
			return fmt.Errorf("yalnixd: tty: terminal %d: %w", t, err)
		}
	}

	k := kernel.New(kernel.Config{
		NumFrames:      cfg.NumFrames,
		ReservedFrames: cfg.ReservedFrames,
		NumTerminals:   cfg.NumTerminals,
		TTY:            driver,
		Loader:         &kernel.FileLoader{Dir: cfg.ProgramDir},
		Clock:          timeutil.RealClock(),
		Metrics:        reg,
	})
	k.EnableVM()

	ln, err := listenerFor(cfg)
	if err != nil {
		return fmt.Errorf("yalnixd: fsserver listen: %w", err)
	}
	srv := fsserver.NewServer(fs)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return runTicker(gctx, k, cfg.TickInterval) })
	for t := 0; t < cfg.NumTerminals; t++ {
		t := t
		g.Go(func() error { return forwardTerminalLines(gctx, driver, k, t) })
	}
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, reg, cfg.MetricsAddr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openOrFormatDisk reuses an existing disk image verbatim (Boot
// rebuilds its bitmaps by scanning every inode) or lays out a fresh
// one (Format) when DiskPath does not yet exist.
func openOrFormatDisk(cfg *config, reg *metrics.Registry) (*fsserver.FS, error) {
	opts := fsserver.Options{
		BlockCacheSize: cfg.BlockCacheSize,
		InodeCacheSize: cfg.InodeCacheSize,
		Metrics:        reg,
	}

	if _, err := os.Stat(cfg.DiskPath); err == nil {
		disk, err := fsserver.OpenFileDisk(cfg.DiskPath, cfg.DiskBlocks)
		if err != nil {
			return nil, err
		}
		return fsserver.Boot(disk, opts)
	}

	disk, err := fsserver.CreateFileDisk(cfg.DiskPath, cfg.DiskBlocks)
	if err != nil {
		return nil, err
	}
	return fsserver.Format(disk, cfg.DiskBlocks, cfg.DiskInodes, opts)
}

// listenerFor returns the fsserver transport cfg selects: a Unix-domain
// socket for the multi-process demo, or an in-process channel pair for
// a single-binary demo that never leaves the process.
func listenerFor(cfg *config) (ipc.Listener, error) {
	if cfg.ListenNet == "chan" {
		ln, _ := ipc.NewChanTransport()
		return ln, nil
	}
	if cfg.ListenNet == "unix" {
		os.Remove(cfg.ListenAddr) // stale socket left by a previous, uncleanly-killed run
	}
	return ipc.Listen(cfg.ListenNet, cfg.ListenAddr)
}

// runTicker drives the kernel's clock at wall-clock rate, standing in
// for the real hardware clock interrupt.
func runTicker(ctx context.Context, k *kernel.Kernel, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Tick()
		}
	}
}

// forwardTerminalLines bridges the driver's line-buffered
// ReadTerminal into the kernel's own terminal subsystem, which is
// independent of the driver and has no way to observe a completed
// line on its own. One goroutine per terminal blocks in ReadTerminal
// and hands each completed line to TtyReceiveInterrupt as it arrives.
func forwardTerminalLines(ctx context.Context, driver *tty.Driver, k *kernel.Kernel, term int) error {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := driver.ReadTerminal(term, buf)
		if err != nil {
			return fmt.Errorf("terminal %d: %w", term, err)
		}
		line := make([]byte, n)
		copy(line, buf[:n])
		k.TtyReceiveInterrupt(term, line)
	}
}

func serveMetrics(ctx context.Context, reg *metrics.Registry, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
