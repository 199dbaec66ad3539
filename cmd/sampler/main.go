// Command sampler periodically samples analog sensor channels, averages them
// and publishes committed values to MQTT, a serial console and a status page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/sensor-sampler/internal/bank"
	"github.com/sweeney/sensor-sampler/internal/clock"
	"github.com/sweeney/sensor-sampler/internal/config"
	"github.com/sweeney/sensor-sampler/internal/hal"
	"github.com/sweeney/sensor-sampler/internal/metrics"
	"github.com/sweeney/sensor-sampler/internal/mqtt"
	"github.com/sweeney/sensor-sampler/internal/report"
	"github.com/sweeney/sensor-sampler/internal/status"
	"github.com/sweeney/sensor-sampler/internal/store"
	"github.com/sweeney/sensor-sampler/internal/web"
)

func main() {
	cfg, opts, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("fatal: %v", err)
	}

	if opts.writeConfig != "" {
		if err := cfg.Save(opts.writeConfig); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		log.Printf("wrote effective config to %s", opts.writeConfig)
		return
	}

	if err := run(cfg, opts.printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// options are the one-shot modes selected on the command line.
type options struct {
	printState  bool
	writeConfig string
}

// loadConfig parses flags, loads the config file and applies the flags that
// were given explicitly on top of it.
func loadConfig(args []string) (*config.Config, options, error) {
	fs := flag.NewFlagSet("sampler", flag.ContinueOnError)
	configPath := fs.String("config", "/etc/sensor-sampler/config.yaml", "YAML config file (missing file uses defaults)")
	broker := fs.String("broker", "", "MQTT broker address (empty to disable)")
	httpAddr := fs.String("http", "", "HTTP status address (empty to disable)")
	tick := fs.Duration("tick", 0, "Scheduler tick interval")
	serialPort := fs.String("serial", "", "Serial port for channel reports")
	storePath := fs.String("store", "", "Settings image file (empty to disable)")
	printState := fs.Bool("print-state", false, "Read every analog channel once and exit")
	writeConfig := fs.String("write-config", "", "Write the effective config (file plus flags) to this path and exit")

	if err := fs.Parse(args); err != nil {
		return nil, options{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, options{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "tick":
			cfg.Timer.Tick = *tick
		case "serial":
			cfg.Report.Serial = *serialPort
			cfg.Report.Enabled = *serialPort != ""
		case "store":
			cfg.Store.Path = *storePath
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, options{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, options{printState: *printState, writeConfig: *writeConfig}, nil
}

func run(cfg *config.Config, printState bool) error {
	board, err := hal.NewBoard(cfg.Board.Chip, cfg.Board.IIO)
	if err != nil {
		return fmt.Errorf("init board: %w", err)
	}
	defer board.Close()

	if printState {
		printChannels(os.Stdout, board, cfg.Channels)
		return nil
	}

	channels, err := bank.New(board, cfg.Channels)
	if err != nil {
		return fmt.Errorf("init channels: %w", err)
	}
	defer channels.Close()

	var st store.Store
	if cfg.Store.Path != "" {
		fst, err := store.OpenFile(cfg.Store.Path, cfg.Store.Size)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer fst.Close()
		st = fst

		n, err := channels.Restore(st)
		if err != nil {
			log.Printf("store restore error: %v", err)
		} else {
			log.Printf("restored settings for %d channels from %s", n, cfg.Store.Path)
		}
	}

	unit := cfg.Timer.CounterUnit()
	timer := clock.NewTimer(clock.NewMonotonicCounter(unit), clock.ScaleFor(unit))

	var button *hal.Button
	if cfg.Button.Pin != nil {
		button = hal.NewButton(board, *cfg.Button.Pin, cfg.Button.Debounce.Seconds(), cfg.Button.ActiveLow)
	}

	var publisher *mqtt.RealPublisher
	if cfg.MQTT.Broker != "" {
		publisher, err = mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Buffer:   cfg.MQTT.Buffer,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()
	}

	var reporter *report.Writer
	switch {
	case cfg.Report.Serial != "":
		reporter, err = report.OpenSerial(cfg.Report.Serial, cfg.Report.Baud, cfg.Report.Verbose)
		if err != nil {
			return fmt.Errorf("init report: %w", err)
		}
		defer reporter.Close()
	case cfg.Report.Enabled:
		reporter = report.New(os.Stdout, cfg.Report.Verbose)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:      cfg.Timer.Tick.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Resolution:  cfg.Timer.Resolution,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Store:       cfg.Store.Path,
	})
	m := metrics.New()

	d := &daemon{
		timer:    timer,
		bank:     channels,
		button:   button,
		tracker:  tracker,
		metrics:  m,
		reporter: reporter,
		store:    st,
		now:      time.Now,
	}
	if publisher != nil {
		d.publisher = publisher
		d.mqttStatus = publisher
	}
	if cfg.Heartbeat > 0 {
		period := uint64(max(cfg.Heartbeat/time.Second, 1))
		hb := clock.NewDeadline(period, period)
		d.heartbeat = &hb
	}
	d.start()

	if cfg.HTTP.Addr != "" {
		queue := web.NewQueue(8)
		d.commands = queue.C()
		d.hub = web.NewHub(tracker)

		srv := web.New(cfg.HTTP.Addr, tracker, web.Options{Controller: queue, Hub: d.hub, Metrics: m})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: channels=%d tick=%v resolution=%s broker=%s heartbeat=%v",
		len(channels.Handlers()), cfg.Timer.Tick, cfg.Timer.Resolution, cfg.MQTT.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Timer.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(ticker.C, sigCh)
}

// printChannels reads every configured analog channel once.
func printChannels(w io.Writer, p hal.Pins, channels []config.ChannelConfig) {
	for _, ch := range channels {
		if in := ch.DriveInput(); in >= 0 {
			p.DigitalWrite(in, true)
		}
		raw := p.AnalogRead(ch.AnalogPin)
		if in := ch.DriveInput(); in >= 0 {
			p.DigitalWrite(in, false)
		}
		fmt.Fprintf(w, "%s %s: pin=%d raw=%d\n", ch.Code, ch.Name, ch.AnalogPin, raw)
	}
}
