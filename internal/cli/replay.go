package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"engine-position-go/pkg/capture"
	"engine-position-go/pkg/crank"
	"engine-position-go/pkg/edgesource"
	"engine-position-go/pkg/log"
)

// ReplayOptions holds the replay command flags.
type ReplayOptions struct {
	*RootOptions
	File     string
	Database string
	Notes    string
}

// NewReplayCommand creates the replay command: decode a capture file,
// optionally recording per-cycle statistics to the session store.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [capture-file]",
		Short: "Decode a recorded capture file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.File = args[0]
			}
			return runReplay(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Database, "db", "", "record per-cycle stats to this sqlite database")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "session notes for the database record")
	return cmd
}

func runReplay(opts *ReplayOptions) error {
	logger := log.GetLogger("replay")
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	path := opts.File
	if path == "" {
		path = cfg.Source.Path
	}
	if path == "" {
		return fmt.Errorf("no capture file: pass one or set source.path in the config")
	}
	db := opts.Database
	if db == "" {
		db = cfg.Capture.Database
	}

	h, err := buildHost(cfg)
	if err != nil {
		return err
	}
	h.autoCommit()

	ctx := context.Background()
	var store *capture.Store
	var session *capture.Session
	if db != "" {
		store, err = capture.Open(db)
		if err != nil {
			return err
		}
		defer store.Close()
		wheel := fmt.Sprintf("%d-%d", cfg.Wheel.TeethTillGap+cfg.Wheel.TeethInGap, cfg.Wheel.TeethInGap)
		session, err = store.BeginSession(ctx, wheel, opts.Notes)
		if err != nil {
			return err
		}
		defer store.EndSession(ctx, session.ID)
		logger.WithField("session", session.ID).Info("recording session")
	}

	var prev crank.Stats
	h.decoder.SetOnceEveryCycleCallback(func(crank.EnginePositionState) {
		if store == nil {
			return
		}
		stats := h.decoder.Stats()
		st := h.decoder.Status()
		err := store.RecordCycle(ctx, capture.CycleStats{
			SessionID:      session.ID,
			Cycle:          stats.Cycles,
			Teeth:          stats.TeethAccepted - prev.TeethAccepted,
			Timeouts:       stats.Timeouts - prev.Timeouts,
			Stalls:         stats.Stalls - prev.Stalls,
			MeanPeriodNorm: float64(st.LastToothPeriodNorm),
		})
		if err != nil {
			logger.WithError(err).Warn("cycle record failed")
		}
		prev = stats
	})

	src, err := edgesource.OpenReplay(path)
	if err != nil {
		return err
	}
	defer src.Close()

	h.decoder.Start(0)
	err = edgesource.Drain(src, func(e edgesource.Edge) {
		h.tb.AdvanceTo(e.Time)
		switch e.Signal {
		case edgesource.SignalCrank:
			h.decoder.OnTransition(e.Time)
		case edgesource.SignalCam:
			h.refLog.Record(e.Time, e.Rising)
		}
	})
	if err != nil {
		return err
	}

	st := h.decoder.Status()
	stats := h.decoder.Stats()
	fmt.Printf("engine state: %s\n", st.EngineState)
	fmt.Printf("teeth accepted: %d  gaps verified: %d  cycles: %d\n",
		stats.TeethAccepted, stats.GapsVerified, stats.Cycles)
	fmt.Printf("timeouts: %d  stalls: %d  handshake retries: %d\n",
		stats.Timeouts, stats.Stalls, stats.HandshakeRetries)
	if flags := h.decoder.ReadErrorFlags(); flags != 0 {
		fmt.Printf("error flags: %s\n", flags)
	}
	return nil
}
