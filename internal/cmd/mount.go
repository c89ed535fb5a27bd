package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dendrascience/zkfuse/internal/config"
	"github.com/dendrascience/zkfuse/internal/logging"
	"github.com/dendrascience/zkfuse/internal/metrics"
	"github.com/dendrascience/zkfuse/mirror"
	"github.com/dendrascience/zkfuse/version"
	"github.com/dendrascience/zkfuse/zkfs"
	"github.com/dendrascience/zkfuse/zktree"
)

// NewMountCmd creates and returns the mount subcommand for the zkfuse CLI.
func NewMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount CONNECT_STRING MOUNTPOINT",
		Short: "Mount a ZooKeeper subtree",
		Long: `Mount a ZooKeeper subtree at the specified mountpoint.

CONNECT_STRING lists the ensemble servers, optionally followed by the path of
the subtree to mount ("zk1:2181,zk2:2181/app").
MOUNTPOINT is the directory where the filesystem will be mounted.

The command blocks until the filesystem is unmounted or it receives SIGINT or
SIGTERM, in which case it unmounts before exiting.`,
		Args: cobra.ExactArgs(2),
		RunE: runMount,
	}
	addMountFlags(cmd.Flags())
	return cmd
}

func addMountFlags(flags *pflag.FlagSet) {
	flags.Bool("allow-other", false, "Allow other users to access the mount")
	flags.Duration("attr-valid", time.Second, "How long the kernel may cache attributes; 0 disables caching")
	flags.Bool("version-check", true, "Reject writes that race with another writer")
	flags.Bool("no-cache", false, "Read through to ZooKeeper instead of a watched mirror")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runMount(cmd *cobra.Command, args []string) error {
	src, cfg, err := loadConfig(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	if err := checkMountpoint(cfg.Mount.Mountpoint); err != nil {
		return err
	}
	log, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer logging.Sync()
	followLogLevel(src, log)

	log.Info("zkfuse starting", zap.String("version", version.GetFullVersion()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		rec metrics.Recorder = metrics.Noop{}
		reg *prometheus.Registry
	)
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec = metrics.New(reg)
	}

	adapter, err := startAdapter(ctx, cfg, log, rec)
	if err != nil {
		return err
	}
	defer adapter.Destroy()

	mountpoint := cfg.Mount.Mountpoint
	opts := []fuse.MountOption{
		fuse.FSName("zkfuse"),
		fuse.Subtype("zkfuse"),
	}
	if cfg.Mount.AllowOther {
		opts = append(opts, fuse.AllowOther())
	}
	c, err := fuse.Mount(mountpoint, opts...)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", mountpoint, err)
	}
	defer c.Close()

	attrValid := cfg.Mount.AttrValid
	if cfg.Mount.NoCache {
		attrValid = 0
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(serveCtx)

	g.Go(func() error {
		defer cancel()
		log.Info("mounted",
			zap.String("mountpoint", mountpoint),
			zap.Strings("servers", cfg.ZooKeeper.Servers),
			zap.String("root", cfg.ZooKeeper.Root))
		if err := fs.Serve(c, zkfs.NewFS(adapter, attrValid)); err != nil {
			return fmt.Errorf("serving %s: %w", mountpoint, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() == nil {
			return nil
		}
		log.Info("received shutdown signal, unmounting", zap.String("mountpoint", mountpoint))
		if err := fuse.Unmount(mountpoint); err != nil {
			log.Warn("unmount failed", zap.String("mountpoint", mountpoint), zap.Error(err))
			return fmt.Errorf("unmounting %s: %w", mountpoint, err)
		}
		return nil
	})

	if reg != nil {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

// startAdapter connects, builds the snapshot selected by the config and
// primes it. Any failure leaves nothing open.
func startAdapter(ctx context.Context, cfg *config.Config, log *zap.Logger, rec metrics.Recorder) (*zkfs.Adapter, error) {
	client, err := connect(ctx, cfg, log, rec)
	if err != nil {
		return nil, err
	}

	root := cfg.ZooKeeper.Root
	var snap zkfs.Snapshot
	if cfg.Mount.NoCache {
		snap = mirror.NewPassthrough(client, root, cfg.ZooKeeper.SessionTimeout, log.Named("passthrough"))
	} else {
		snap = mirror.New(client, root, mirror.WithLogger(log.Named("mirror")), mirror.WithObserver(rec))
	}

	adapter := zkfs.New(snap, client,
		zkfs.WithRoot(root),
		zkfs.WithVersionCheck(cfg.Mount.VersionCheck),
		zkfs.WithMaxPayload(cfg.ZooKeeper.MaxPayload),
		zkfs.WithLogger(log.Named("fs")),
		zkfs.WithObserver(rec),
	)
	if err := adapter.Init(ctx); err != nil {
		adapter.Destroy()
		if errors.Is(err, zktree.ErrNotFound) {
			return nil, fmt.Errorf("mount root %s does not exist: %w", root, err)
		}
		return nil, fmt.Errorf("priming %s: %w", root, err)
	}
	return adapter, nil
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// checkMountpoint requires an existing directory.
func checkMountpoint(mountpoint string) error {
	if mountpoint == "" {
		return errors.New("no mountpoint given")
	}
	info, err := os.Stat(mountpoint)
	if err != nil {
		return fmt.Errorf("mountpoint: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mountpoint %s is not a directory", mountpoint)
	}
	return nil
}
