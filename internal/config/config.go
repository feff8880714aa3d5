package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/spectral-pipeline/internal/kernel"
	"github.com/lexiqai/spectral-pipeline/internal/sharedstate"
)

// Config holds all configuration for the spectral pipeline service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service

	// Pipeline geometry, fixed for the life of the process
	RingBufferLength int `envconfig:"RING_BUFFER_LENGTH" default:"3072"` // Samples per ring
	KernelLength     int `envconfig:"KERNEL_LENGTH" default:"1024"`      // Samples per producer cycle (power of two)
	RenderQuantum    int `envconfig:"RENDER_QUANTUM" default:"128"`      // Samples per render callback
	SampleRate       int `envconfig:"SAMPLE_RATE" default:"48000"`

	// Producer transform
	Transform        string `envconfig:"TRANSFORM" default:"fft"`       // fft, identity
	Window           string `envconfig:"FFT_WINDOW" default:"hann"`     // hann, none
	HandshakeTimeout int    `envconfig:"HANDSHAKE_TIMEOUT" default:"5"` // seconds

	// Audio source. An empty SOURCE_URL plays a synthetic tone.
	SourceURL        string  `envconfig:"SOURCE_URL" default:""`
	SourceSampleRate int     `envconfig:"SOURCE_SAMPLE_RATE" default:"0"`     // 0 means SAMPLE_RATE
	SourceBufferSize int     `envconfig:"SOURCE_BUFFER_SIZE" default:"16384"` // Jitter buffer size in samples
	ToneFrequency    float64 `envconfig:"TONE_FREQUENCY" default:"440"`
	ToneAmplitude    float64 `envconfig:"TONE_AMPLITUDE" default:"0.5"`

	// Activity detection on emitted frames
	ActivityThreshold     float64 `envconfig:"ACTIVITY_THRESHOLD" default:"0.02"` // RMS level
	ActivitySilenceFrames int     `envconfig:"ACTIVITY_SILENCE_FRAMES" default:"10"`

	// Stream hub and decision store
	SubscriberQueueSize int `envconfig:"SUBSCRIBER_QUEUE_SIZE" default:"64"` // Frames buffered per viewer and in the hub queue
	SubjectCapacity     int `envconfig:"SUBJECT_CAPACITY" default:"1024"`     // Subjects retained for decisions

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"1"`   // Failed reconnect rounds before opening
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the pipeline geometry and the named transform
func (c *Config) Validate() error {
	if err := sharedstate.ValidateGeometry(c.RingBufferLength, c.KernelLength); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.RenderQuantum <= 0 || c.RenderQuantum > c.KernelLength {
		return fmt.Errorf("invalid config: RENDER_QUANTUM %d must be in [1, KERNEL_LENGTH]", c.RenderQuantum)
	}
	if c.KernelLength%c.RenderQuantum != 0 {
		return fmt.Errorf("invalid config: KERNEL_LENGTH %d is not a multiple of RENDER_QUANTUM %d", c.KernelLength, c.RenderQuantum)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid config: SAMPLE_RATE must be positive")
	}
	switch c.Transform {
	case kernel.NameFFT, kernel.NameIdentity:
	default:
		return fmt.Errorf("invalid config: %w: %q", kernel.ErrUnknownTransform, c.Transform)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("invalid config: HANDSHAKE_TIMEOUT must be positive")
	}
	return nil
}

// QuantumInterval is the wall-clock period of one render quantum
func (c *Config) QuantumInterval() time.Duration {
	return time.Duration(c.RenderQuantum) * time.Second / time.Duration(c.SampleRate)
}

// EffectiveSourceSampleRate is the rate the source delivers at
func (c *Config) EffectiveSourceSampleRate() int {
	if c.SourceSampleRate > 0 {
		return c.SourceSampleRate
	}
	return c.SampleRate
}
