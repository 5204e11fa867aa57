package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"engine-position-go/pkg/config"
	"engine-position-go/pkg/crank"
	"engine-position-go/pkg/edgesource"
	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/log"
	"engine-position-go/pkg/metrics"
	"engine-position-go/pkg/sched"
	"engine-position-go/pkg/status"
)

// Capture timestamps are microseconds, so the time counter runs at 1MHz.
const captureTickHz = 1e6

// Housekeeping cadences, in time counter ticks.
const (
	deadlinePollTicks = 1000
	metricsTicks      = 100000
)

// ServeOptions holds the serve command flags.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command: run the decoder against
// the configured edge source and expose the status API.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Decode a live edge source and serve status queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "status listen address (overrides the config)")
	return cmd
}

func runServe(opts *ServeOptions) error {
	logger := log.GetLogger("serve")
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	h, err := buildHost(cfg)
	if err != nil {
		return err
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	m := metrics.Global()
	srv := status.NewServer(h.decoder, m.Registry())
	status.Bind(srv, h.decoder)
	// Bind owns the callback slots, so the auto-commit shares the
	// window-closed slot with the event feed.
	h.decoder.SetLogWindowClosedCallback(func(st crank.EnginePositionState) {
		srv.Publish("log_window_closed", st)
		h.commitFromLog()
	})
	addr := opts.Addr
	if addr == "" {
		addr = cfg.Status.Addr
	}
	if err := srv.Start(addr); err != nil {
		return err
	}
	defer srv.Stop()
	logger.WithField("addr", srv.Addr()).Info("status server listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pattern := cfg.Wheel.Pattern()
	mon := sched.New(h.tb, 10*time.Millisecond)
	mon.WatchDeadlines(h.decoder, deadlinePollTicks)
	mon.RegisterTimer(h.tb.Now()+metricsTicks, func(now uint64) uint64 {
		st := h.decoder.Status()
		m.ObserveDecoder("crank", st, h.decoder.Stats())
		m.SetRPM("crank", rpm(pattern, st.LastToothPeriodNorm, captureTickHz))
		return now + metricsTicks
	})
	go mon.Run(ctx)

	h.decoder.Start(h.tb.Now())
	drained := make(chan error, 1)
	go func() {
		drained <- edgesource.Drain(src, func(e edgesource.Edge) {
			h.tb.AdvanceTo(e.Time)
			switch e.Signal {
			case edgesource.SignalCrank:
				h.decoder.OnTransition(e.Time)
			case edgesource.SignalCam:
				h.refLog.Record(e.Time, e.Rising)
			}
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
		return nil
	case err := <-drained:
		if err != nil {
			return err
		}
		logger.Info("edge source drained")
		return nil
	}
}

// openSource builds the edge source named by the config.
func openSource(cfg *config.File) (edgesource.Source, error) {
	switch cfg.Source.Type {
	case "replay":
		return edgesource.OpenReplay(cfg.Source.Path)
	case "serial":
		return edgesource.OpenSerial(cfg.Source.Device, cfg.Source.Baud)
	case "gpio":
		pin := gpioreg.ByName(cfg.Source.Pin)
		if pin == nil {
			return nil, errors.CaptureSourceError(cfg.Source.Pin,
				fmt.Errorf("gpio pin not registered"))
		}
		start := time.Now()
		return edgesource.NewGPIO(pin, edgesource.SignalCrank, func() uint64 {
			return uint64(time.Since(start).Microseconds())
		})
	default:
		return nil, errors.ConfigValidationError("source", "type",
			fmt.Sprintf("unknown source type %q", cfg.Source.Type))
	}
}
