package cli

import (
	"engine-position-go/pkg/camlog"
	"engine-position-go/pkg/config"
	"engine-position-go/pkg/crank"
	"engine-position-go/pkg/timebase"
)

// host bundles the decoder channel the commands operate on.
type host struct {
	cfg     *config.File
	tb      *timebase.Sim
	refLog  *camlog.Log
	decoder *crank.Decoder
}

// loadConfig reads the configuration file, or the built-in defaults
// when no path is given.
func loadConfig(path string) (*config.File, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

// buildHost assembles the decoder channel from a validated config.
func buildHost(cfg *config.File) (*host, error) {
	pattern := cfg.Wheel.Pattern()
	tb := timebase.NewSim(pattern.AngleSpan())
	refLog := camlog.New(0)
	dec, err := crank.New(pattern, cfg.Runtime.Runtime(), tb, refLog)
	if err != nil {
		return nil, err
	}
	return &host{cfg: cfg, tb: tb, refLog: refLog, decoder: dec}, nil
}

// autoCommit wires the handshake so the host commits the sync as soon
// as the logging window closes. The adjustment is zero when the cam
// log shows the window started in the first half-cycle, half a cycle
// otherwise: with no cam transition recorded, the window was in the
// half where the cam signal is idle.
func (h *host) autoCommit() {
	h.decoder.SetLogWindowClosedCallback(func(crank.EnginePositionState) {
		h.commitFromLog()
	})
}

// commitFromLog performs the auto-commit decision for one closed
// logging window.
func (h *host) commitFromLog() {
	var adjust int32
	if h.refLog.Len() == 0 {
		adjust = int32(h.cfg.Wheel.Pattern().AngleSpan() / 2)
	}
	h.decoder.CommitSync(adjust)
}

// rpm estimates engine speed from the normalized tooth period,
// assuming the time counter runs at tickHz.
func rpm(pattern crank.ToothPatternConfig, periodNorm uint32, tickHz float64) float64 {
	if periodNorm == 0 {
		return 0
	}
	teethPerRev := float64(pattern.TeethPerCycle) / 2
	return 60 * tickHz / (float64(periodNorm) * teethPerRev)
}
