package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/estutasa/JackTheGripper/internal/api"
	"github.com/estutasa/JackTheGripper/internal/capture"
	"github.com/estutasa/JackTheGripper/internal/command"
	"github.com/estutasa/JackTheGripper/internal/config"
	"github.com/estutasa/JackTheGripper/internal/db"
	"github.com/estutasa/JackTheGripper/internal/hwi"
	"github.com/estutasa/JackTheGripper/internal/influx"
	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/neighbors"
	"github.com/estutasa/JackTheGripper/internal/packet"
	"github.com/estutasa/JackTheGripper/internal/sensor"
	"github.com/estutasa/JackTheGripper/internal/version"
	"github.com/estutasa/JackTheGripper/internal/wisim"
)

var (
	configFile   = flag.String("config", config.DefaultConfigPath, "Path to the interface configuration file")
	dbFile       = flag.String("db", "", "Record samples, events and neighbor lists to this SQLite file")
	listen       = flag.String("listen", ":8080", "HTTP listen address, empty to disable")
	replayFile   = flag.String("replay", "", "Replay data channel traffic from a pcap file instead of connecting")
	recordFile   = flag.String("record", "", "Record data channel traffic to a pcap file")
	forwardAddr  = flag.String("forward", "", "Mirror data frames to this UDP address (host:port)")
	devMode      = flag.Bool("dev", false, "Run against an emulated interface box on loopback")
	devRows      = flag.Int("dev-rows", 2, "Rows of emulated skin cells in dev mode")
	devCols      = flag.Int("dev-cols", 2, "Columns of emulated skin cells in dev mode")
	influxURL    = flag.String("influx-url", "", "Export samples and events to this InfluxDB v2 server (token from INFLUX_TOKEN)")
	influxOrg    = flag.String("influx-org", "", "InfluxDB organization")
	influxBucket = flag.String("influx-bucket", "eskin", "InfluxDB bucket")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	noConsole    = flag.Bool("no-console", false, "Do not read commands from stdin")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads path. A missing file at the default path falls back to
// the built-in defaults; any other failure is fatal to the caller.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
		log.Printf("no config at %s, using defaults", path)
		return config.DefaultConfig(), nil
	}
	return nil, err
}

// devConfig points both links of hc at an emulated box.
func devConfig(hc hwi.Config, dev *wisim.Device) hwi.Config {
	hc.Ctrl.Local = "127.0.0.1:0"
	hc.Ctrl.Remote = dev.CtrlAddr().String()
	hc.Data.Local = "127.0.0.1:0"
	hc.Data.Remote = dev.DataAddr().String()
	return hc
}

// offline rejects writes while replaying.
type offline struct{}

func (offline) Write([]byte) error { return errors.New("replay mode: no link to the interface box") }

type namedStats struct {
	name  string
	stats *link.Stats
}

func (n namedStats) Name() string       { return n.name }
func (n namedStats) Stats() *link.Stats { return n.stats }

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	monitoring.SetDebug(*debug || cfg.GetDebug())
	log.Printf("starting %s", version.String())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hc := cfg.HWI()
	if *devMode {
		dev, err := wisim.New(wisim.Config{Cells: wisim.Grid(*devRows, *devCols, 1)})
		if err != nil {
			log.Fatalf("failed to start emulated interface: %v", err)
		}
		dev.Start(ctx)
		defer dev.Close()
		hc = devConfig(hc, dev)
		log.Printf("emulated interface on ctrl %s, data %s", dev.CtrlAddr(), dev.DataAddr())
	}

	var (
		dataReader *link.Reader
		links      []api.StatsSource
		host       *hwi.Interface
		mgr        *neighbors.Manager
		dispatcher *command.Dispatcher
		dataStats  *link.Stats
	)
	if *replayFile != "" {
		src, err := net.ResolveUDPAddr("udp", hc.Data.Remote)
		if err != nil {
			log.Fatalf("invalid data endpoint: %v", err)
		}
		rl, err := capture.OpenReplay(*replayFile, capture.ReplayConfig{
			Source:    src,
			FrameSize: packet.FrameSize,
			Realtime:  true,
		})
		if err != nil {
			log.Fatalf("failed to open replay: %v", err)
		}
		defer rl.Close()
		dataReader = rl.Reader()
		dataStats = rl.Stats()
		links = append(links, namedStats{"replay", rl.Stats()})
		dispatcher = command.NewDispatcher(offline{}, offline{}, nil)
		go func() {
			select {
			case <-rl.Done():
				log.Printf("replay of %s finished", *replayFile)
			case <-ctx.Done():
			}
		}()
	} else {
		host = hwi.New(hc)
		if err := host.Open(); err != nil {
			log.Fatalf("failed to open interface: %v", err)
		}
		dataReader = host.Data().Reader()
		dataStats = host.Data().Stats()
		links = append(links, host.Ctrl(), host.Data())
		mgr = neighbors.NewManager(host.Ctrl())
		dispatcher = command.NewDispatcher(host.Ctrl(), host.Data(), host)
	}

	samples := sensor.NewDataPublisher()
	samples.Attach(dataReader)
	events := sensor.NewEventsPublisher()
	events.Attach(dataReader)
	mgrAPI := api.NeighborSource(nil)
	if mgr != nil {
		mgrAPI = mgr
		mgr.AddListener(func(list []neighbors.Record) {
			log.Printf("neighbor list: %d skin cells", len(list))
		})
	}

	var store *db.DB
	if *dbFile != "" {
		store, err = db.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer store.Close()

		sink := db.NewSink(store, db.SinkConfig{Drops: dataStats})
		sink.Start(ctx)
		samples.AddListener(sink.HandleSample)
		events.AddListener(sink.HandleEvents)
		if mgr != nil {
			mgr.AddListener(sink.HandleNeighbors)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-sink.Done()
			log.Print("database writer stopped")
		}()
	}

	if *influxURL != "" {
		exp, err := influx.New(influx.Config{
			URL:    *influxURL,
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    *influxOrg,
			Bucket: *influxBucket,
		})
		if err != nil {
			log.Fatalf("failed to configure influx export: %v", err)
		}
		defer exp.Close()
		samples.AddListener(exp.HandleSample)
		events.AddListener(exp.HandleEvents)
		if mgr != nil {
			mgr.AddListener(exp.HandleNeighbors)
		}
		log.Printf("exporting to influx %s bucket %s", *influxURL, *influxBucket)
	}

	if *recordFile != "" {
		rec, err := capture.Create(*recordFile)
		if err != nil {
			log.Fatalf("failed to create capture: %v", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("failed to close capture: %v", err)
			}
			log.Printf("recorded %d packets to %s", rec.Packets(), *recordFile)
		}()
		src, _ := net.ResolveUDPAddr("udp", hc.Data.Remote)
		dst, _ := net.ResolveUDPAddr("udp", hc.Data.Local)
		dataReader.AddCallback(rec.Tap(src, dst))
	}

	if *forwardAddr != "" {
		fwd, err := link.NewForwarder(*forwardAddr, dataStats, cfg.GetStatsInterval())
		if err != nil {
			log.Fatalf("failed to create forwarder: %v", err)
		}
		fwd.Start(ctx)
		defer fwd.Close()
		dataReader.AddCallback(fwd.ForwardAsync)
		log.Printf("forwarding data frames to %s", *forwardAddr)
	}

	if host != nil {
		if err := host.StartReaders(); err != nil {
			log.Fatalf("failed to start readers: %v", err)
		}
		if err := host.Connect(); err != nil {
			log.Printf("failed to connect: %v", err)
		}
		if err := mgr.Request(); err != nil {
			log.Printf("failed to request neighbor list: %v", err)
		}
	} else if err := dataReader.Start(); err != nil {
		log.Fatalf("failed to start replay reader: %v", err)
	}

	server := api.NewServer(api.Options{
		Samples:   samples,
		Neighbors: mgrAPI,
		Commands:  dispatcher,
		DB:        store,
		Links:     links,
	})
	samples.AddListener(server.HandleSample)
	events.AddListener(server.HandleEvents)

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, *listen, server)
		}()
	}

	if interval := cfg.GetStatsInterval(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logStats(ctx, interval, links)
		}()
	}

	if !*noConsole {
		// Not part of wg: a blocked stdin read must not hold up shutdown.
		go func() {
			runConsole(ctx, os.Stdin, os.Stdout, dispatcher, recorderFor(store))
			stop()
		}()
	}

	<-ctx.Done()
	log.Print("shutting down...")

	if host != nil {
		if err := host.Disconnect(); err != nil {
			log.Printf("failed to disconnect: %v", err)
		}
		if err := host.StopReaders(); err != nil {
			log.Printf("failed to stop readers: %v", err)
		}
		if err := host.Close(); err != nil {
			log.Printf("failed to close interface: %v", err)
		}
	} else if err := dataReader.Stop(); err != nil && !errors.Is(err, link.ErrReaderStopped) {
		log.Printf("failed to stop replay reader: %v", err)
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func serveHTTP(ctx context.Context, addr string, s *api.Server) {
	mux, err := s.ServeMux()
	if err != nil {
		log.Printf("failed to build HTTP routes: %v", err)
		return
	}
	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	log.Printf("HTTP API listening on %s", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("HTTP server routine stopped")
}

func logStats(ctx context.Context, interval time.Duration, links []api.StatsSource) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, l := range links {
				l.Stats().LogInterval(l.Name())
			}
		}
	}
}
