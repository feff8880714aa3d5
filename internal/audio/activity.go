package audio

// ActivityConfig holds configuration for the energy-gate activity detector
type ActivityConfig struct {
	Threshold     float64 // RMS level above which a frame counts as active
	SilenceFrames int     // Consecutive quiet frames before activity ends
}

// DefaultActivityConfig returns a default activity configuration
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		Threshold:     0.02,
		SilenceFrames: 10,
	}
}

// ActivityDetector flags frames that carry signal, with a hangover so short
// gaps inside a call or song do not split it
type ActivityDetector struct {
	config         *ActivityConfig
	silenceCounter int
	active         bool
}

// NewActivityDetector creates a new activity detector
func NewActivityDetector(config *ActivityConfig) *ActivityDetector {
	if config == nil {
		config = DefaultActivityConfig()
	}
	return &ActivityDetector{config: config}
}

// ProcessLevel feeds one frame's RMS level and returns (active, started, ended)
func (d *ActivityDetector) ProcessLevel(rms float64) (bool, bool, bool) {
	var started, ended bool

	if rms > d.config.Threshold {
		d.silenceCounter = 0
		if !d.active {
			started = true
			d.active = true
		}
	} else {
		d.silenceCounter++
		if d.active && d.silenceCounter >= d.config.SilenceFrames {
			ended = true
			d.active = false
			d.silenceCounter = 0
		}
	}

	return d.active, started, ended
}
