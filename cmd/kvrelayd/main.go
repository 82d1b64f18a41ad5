package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"

	"github.com/mickamy/kvrelay/admin"
	"github.com/mickamy/kvrelay/archive"
	"github.com/mickamy/kvrelay/broker"
	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/engine"
	"github.com/mickamy/kvrelay/hotkey"
	"github.com/mickamy/kvrelay/store"
)

var version = "dev"

// nodeList collects repeated -cluster-nodes flags.
type nodeList []string

func (n *nodeList) String() string { return strings.Join(*n, ",") }

func (n *nodeList) Set(v string) error {
	if v == "" {
		return fmt.Errorf("empty cluster node address")
	}
	*n = append(*n, v)
	return nil
}

func main() {
	fs := flag.NewFlagSet("kvrelayd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "kvrelayd — replicated in-memory key-value store daemon\n\nUsage:\n  kvrelayd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n  ARCHIVE_S3_ACCESS_KEY    access key for the S3 archive target\n  ARCHIVE_S3_SECRET_KEY    secret key for the S3 archive target\n")
	}

	logFile := fs.String("log-file", "wal.txt", "write-ahead log path")
	fsync := fs.Bool("fsync", false, "fsync the write-ahead log after every append")
	readOnly := fs.Bool("read-only", false, "run as a read-only follower")
	port := fs.Int("port", 12345, "client listen port")
	clusterPassword := fs.String("cluster-password", "", "shared cluster password")
	var clusterNodes nodeList
	fs.Var(&clusterNodes, "cluster-nodes", "follower host:port (repeatable)")
	clusterConnectTimeout := fs.Duration("cluster-connect-timeout", 500*time.Millisecond, "delay between follower connect retries at boot")
	adminAddr := fs.String("admin", "", "admin HTTP address (e.g. :8080; empty disables)")
	hotkeyThreshold := fs.Int("hotkey-threshold", 50, "hot-key detection threshold (0 to disable)")
	hotkeyWindow := fs.Duration("hotkey-window", time.Second, "hot-key detection time window")
	hotkeyCooldown := fs.Duration("hotkey-cooldown", 10*time.Second, "hot-key alert cooldown per key")
	archiveInterval := fs.Duration("archive-interval", 0, "WAL archive interval (0 disables)")
	archiveDir := fs.String("archive-dir", "", "local directory WAL archives are written to")
	archiveBucket := fs.String("archive-s3-bucket", "", "S3 bucket WAL archives are written to")
	archiveEndpoint := fs.String("archive-s3-endpoint", "", "S3-compatible endpoint for the archive target")
	archiveRegion := fs.String("archive-s3-region", "", "S3 region for the archive target")
	archivePathStyle := fs.Bool("archive-s3-path-style", false, "use path-style S3 addressing")
	flagGops := fs.Bool("gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("kvrelayd %s\n", version)
		return
	}

	if len(clusterNodes) > 0 && *clusterPassword == "" {
		fmt.Fprintln(os.Stderr, "kvrelayd: -cluster-nodes requires -cluster-password")
		fs.Usage()
		os.Exit(1)
	}

	cfg := config{
		addr:             fmt.Sprintf(":%d", *port),
		logFile:          *logFile,
		fsync:            *fsync,
		readOnly:         *readOnly,
		clusterPassword:  *clusterPassword,
		clusterNodes:     clusterNodes,
		clusterConnect:   *clusterConnectTimeout,
		adminAddr:        *adminAddr,
		hotkeyThreshold:  *hotkeyThreshold,
		hotkeyWindow:     *hotkeyWindow,
		hotkeyCooldown:   *hotkeyCooldown,
		archiveInterval:  *archiveInterval,
		archiveDir:       *archiveDir,
		archiveBucket:    *archiveBucket,
		archiveEndpoint:  *archiveEndpoint,
		archiveRegion:    *archiveRegion,
		archivePathStyle: *archivePathStyle,
		gops:             *flagGops,
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

type config struct {
	addr             string
	logFile          string
	fsync            bool
	readOnly         bool
	clusterPassword  string
	clusterNodes     []string
	clusterConnect   time.Duration
	adminAddr        string
	hotkeyThreshold  int
	hotkeyWindow     time.Duration
	hotkeyCooldown   time.Duration
	archiveInterval  time.Duration
	archiveDir       string
	archiveBucket    string
	archiveEndpoint  string
	archiveRegion    string
	archivePathStyle bool
	gops             bool
}

func run(cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// See https://github.com/google/gops (runtime overhead is almost zero)
	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fmt.Errorf("gops/agent.Listen: %w", err)
		}
	}

	// Broker
	b := broker.New(256)

	// Hot-key detector (optional)
	var det *hotkey.Detector
	if cfg.hotkeyThreshold > 0 {
		det = hotkey.New(cfg.hotkeyThreshold, cfg.hotkeyWindow, cfg.hotkeyCooldown)
		log.Printf("hot-key detection enabled (threshold=%d, window=%s, cooldown=%s)",
			cfg.hotkeyThreshold, cfg.hotkeyWindow, cfg.hotkeyCooldown)
	}

	// Admin server registered below once it exists; the event hook only
	// sees it through this variable.
	var adminSrv *admin.Server

	opts := engine.Options{
		Addr:                  cfg.addr,
		LogPath:               cfg.logFile,
		Fsync:                 cfg.fsync,
		ReadOnly:              cfg.readOnly,
		ClusterPassword:       cfg.clusterPassword,
		ClusterNodes:          cfg.clusterNodes,
		ClusterConnectTimeout: cfg.clusterConnect,
		OnEvent: func(connID string, cmd command.Command, res store.Result) {
			ev := broker.EventFromResult(connID, cmd, res.Object, res.IsMutating)
			if det != nil && ev.Key != "" {
				r := det.Record(ev.Key, ev.Time)
				ev.Hot = r.Matched
				if r.Alert != nil {
					log.Printf("hot key detected: %q (%d accesses in %s)",
						r.Alert.Key, r.Alert.Count, cfg.hotkeyWindow)
					if adminSrv != nil {
						adminSrv.RecordAlert(*r.Alert, ev.Time)
					}
				}
			}
			b.Publish(ev)
		},
	}

	eng, err := engine.New(opts)
	if err != nil {
		return err
	}

	// Admin HTTP server (optional)
	if cfg.adminAddr != "" {
		start := time.Now()
		status := func() admin.Status {
			return admin.Status{
				Addr:      cfg.addr,
				ReadOnly:  cfg.readOnly,
				Keys:      eng.Store().Len(),
				Followers: len(cfg.clusterNodes),
				WALPath:   cfg.logFile,
				UptimeS:   int64(time.Since(start).Seconds()),
			}
		}
		adminSrv = admin.New(b, status, os.Stderr)

		var lc net.ListenConfig
		adminLis, err := lc.Listen(ctx, "tcp", cfg.adminAddr)
		if err != nil {
			return fmt.Errorf("listen admin %s: %w", cfg.adminAddr, err)
		}
		go func() {
			log.Printf("admin server listening on %s", cfg.adminAddr)
			if err := adminSrv.Serve(adminLis); err != nil {
				log.Printf("admin serve: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(shutdownCtx)
		}()
	}

	// WAL archive heartbeat (optional)
	if cfg.archiveInterval > 0 {
		target, err := archiveTarget(cfg)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("-archive-interval requires -archive-dir or -archive-s3-bucket")
		}

		prefix := "kvrelay" + strings.ReplaceAll(cfg.addr, ":", "-")
		arch := archive.New(eng.WAL(), target, prefix)

		sched, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.archiveInterval),
			gocron.NewTask(func() {
				if err := arch.ArchiveNow(time.Now()); err != nil {
					log.Printf("archive: %v", err)
				}
			}),
		)
		if err != nil {
			return fmt.Errorf("schedule archive job: %w", err)
		}
		sched.Start()
		defer func() { _ = sched.Shutdown() }()
		log.Printf("WAL archival enabled (interval=%s)", cfg.archiveInterval)
	}

	log.Printf("serving on %s (read_only=%v, fsync=%v, followers=%d)",
		cfg.addr, cfg.readOnly, cfg.fsync, len(cfg.clusterNodes))
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func archiveTarget(cfg config) (archive.Target, error) {
	switch {
	case cfg.archiveBucket != "":
		return archive.NewS3Target(archive.S3TargetConfig{
			Endpoint:     cfg.archiveEndpoint,
			Bucket:       cfg.archiveBucket,
			AccessKey:    os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
			SecretKey:    os.Getenv("ARCHIVE_S3_SECRET_KEY"),
			Region:       cfg.archiveRegion,
			UsePathStyle: cfg.archivePathStyle,
		})
	case cfg.archiveDir != "":
		return archive.NewFileTarget(cfg.archiveDir)
	}
	return nil, nil
}
