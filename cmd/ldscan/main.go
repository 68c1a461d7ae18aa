package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/ldscan/internal/config"
	"github.com/banshee-data/ldscan/internal/db"
	"github.com/banshee-data/ldscan/internal/lidar/l1packets/source"
	"github.com/banshee-data/ldscan/internal/lidar/monitor"
	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
	"github.com/banshee-data/ldscan/internal/lidar/recorder"
	"github.com/banshee-data/ldscan/internal/lidar/visualiser"
	"github.com/banshee-data/ldscan/internal/monitoring"
	"github.com/banshee-data/ldscan/internal/serialport"
	"github.com/banshee-data/ldscan/internal/version"
)

var (
	configPath     = flag.String("config", "", "Path to a .json or .yaml config file")
	devMode        = flag.Bool("dev", false, "Run against the synthetic source (no hardware)")
	sourceKind     = flag.String("source", "serial", "Byte source: serial, replay, pcap or synthetic")
	port           = flag.String("port", serialport.DefaultPortPath(), "Serial port to use (ignored in dev mode)")
	baud           = flag.Int("baud", serialport.DefaultBaudRate, "Serial baud rate")
	replayPath     = flag.String("replay", "", "Raw capture file to replay (implies -source replay)")
	replayLoop     = flag.Bool("replay-loop", false, "Restart the replay at end of file")
	pcapPath       = flag.String("pcap", "", "PCAP file of serial-over-UDP traffic (implies -source pcap)")
	pcapPort       = flag.Int("pcap-port", config.DefaultPCAPPort, "UDP destination port to extract from -pcap, 0 for all")
	listen         = flag.String("listen", config.DefaultListen, "HTTP listen address, empty to disable")
	grpcListen     = flag.String("grpc-listen", config.DefaultGRPCListen, "gRPC visualiser listen address, empty to disable")
	dbFile         = flag.String("db", config.DefaultDBPath, "Path to the SQLite database file, empty to disable")
	logFile        = flag.String("log-file", "", "Also write logs to this rotating file")
	retry          = flag.Duration("retry", config.DefaultRetryBackoff, "Pause after a failed scan, 0 to exit on the first failure")
	strictChecksum = flag.Bool("strict-checksum", false, "Log packets whose CRC-8 does not match")
	recordPath     = flag.String("record", "", "Capture the raw byte stream to this file")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// sessionUpdateInterval is how often capture session counters are saved.
const sessionUpdateInterval = 10 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg, flag.Visit)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logCloser, err := monitoring.SetupLogFile(cfg.GetLogFile())
	if err != nil {
		log.Fatalf("failed to set up log file: %v", err)
	}
	defer logCloser.Close()
	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Printf("exiting: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.LoadConfig(path)
}

func ptr[T any](v T) *T { return &v }

// applyFlags copies explicitly set flags over the loaded configuration.
// visit is flag.Visit in production.
func applyFlags(cfg *config.Config, visit func(func(*flag.Flag))) {
	visit(func(f *flag.Flag) {
		switch f.Name {
		case "dev":
			if *devMode {
				cfg.Source = ptr(string(source.KindSynthetic))
			}
		case "source":
			cfg.Source = ptr(*sourceKind)
		case "port":
			cfg.Port = ptr(*port)
		case "baud":
			opts := cfg.GetSerial()
			opts.BaudRate = *baud
			cfg.Serial = &opts
		case "replay":
			cfg.ReplayPath = ptr(*replayPath)
		case "replay-loop":
			cfg.ReplayLoop = ptr(*replayLoop)
		case "pcap":
			cfg.PCAPPath = ptr(*pcapPath)
		case "pcap-port":
			cfg.PCAPPort = ptr(*pcapPort)
		case "listen":
			cfg.Listen = ptr(*listen)
		case "grpc-listen":
			cfg.GRPCListen = ptr(*grpcListen)
		case "db":
			cfg.DBPath = ptr(*dbFile)
		case "log-file":
			opts := cfg.GetLogFile()
			opts.Path = *logFile
			cfg.LogFile = &opts
		case "retry":
			cfg.RetryBackoff = ptr(retry.String())
		case "strict-checksum":
			cfg.StrictChecksum = ptr(*strictChecksum)
		case "record":
			cfg.RecordPath = ptr(*recordPath)
		}
	})

	// -replay and -pcap pick their source unless one was chosen explicitly
	if cfg.Source == nil {
		switch {
		case cfg.GetReplayPath() != "":
			cfg.Source = ptr(string(source.KindReplay))
		case cfg.GetPCAPPath() != "":
			cfg.Source = ptr(string(source.KindPCAP))
		}
	}
}

// run wires source -> pipeline -> consumers and blocks until ctx is
// cancelled or the pipeline stops. A replay without looping ends the
// process at end of file.
func run(ctx context.Context, cfg *config.Config) error {
	src, err := source.Open(cfg.SourceOptions())
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	if path := cfg.GetRecordPath(); path != "" {
		rec, err := recorder.NewRecorder(path, src)
		if err != nil {
			src.Close()
			return err
		}
		src = rec
	}
	defer src.Close()
	log.Printf("reading scans from %s", src.Name())

	metrics := pipeline.NewMetrics()
	runner := pipeline.NewRunner(src, cfg.PipelineConfig(), metrics)

	var database *db.DB
	if path := cfg.GetDBPath(); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	var tracker *sessionTracker
	if database != nil {
		tracker, err = startSession(database, runner.Stats, src.Name())
		if err != nil {
			log.Printf("capture sessions disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tracker.run(ctx, sessionUpdateInterval)
			}()
		}
	}

	if addr := cfg.GetListen(); addr != "" {
		wcfg := monitor.WebServerConfig{Address: addr, Scans: runner, Metrics: metrics}
		if database != nil {
			wcfg.Store = database
			wcfg.DB = database
		}
		ws, err := monitor.NewWebServer(wcfg)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to create web server: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("HTTP server: %v", err)
				cancel()
			}
		}()
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = addr
		pub := visualiser.NewPublisher(vcfg, runner)
		if err := pub.Start(); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to start visualiser: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			pub.Stop()
		}()
	}

	runErr := runner.Run(ctx)
	if runErr != nil {
		log.Printf("pipeline stopped: %v", runErr)
	} else {
		log.Printf("pipeline stopped")
	}
	cancel()
	wg.Wait()

	if tracker != nil {
		tracker.end(runErr)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
