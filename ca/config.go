package ca

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-dvb/logger"
	"github.com/arloliu/go-dvb/resource"
)

// Default timing values.
const (
	DefaultResetDelay      = 10 * time.Millisecond  // settle time after CA_RESET
	DefaultCapsRetryCount  = 10                     // CA_GET_CAP attempts until a slot shows up
	DefaultCapsRetryDelay  = 100 * time.Millisecond // delay between CA_GET_CAP attempts
	DefaultTickInterval    = 100 * time.Millisecond // slot polling period
	DefaultPollInterval    = 100 * time.Millisecond // idle link poll period
	DefaultResponseTimeout = 3 * time.Second        // max wait for a module response
	DefaultWriteTimeout    = time.Second            // max time to drain one TPDU
	DefaultReadBufferSize  = 4096
)

// Limits of the configurable values.
const (
	MaxResetDelay     = 5 * time.Second
	MaxCapsRetryCount = 100
	MinTickInterval   = 10 * time.Millisecond
	MaxTickInterval   = 10 * time.Second
	MinReadBufferSize = TPDUSizeMax + 16
)

// Config holds the configuration of a CaDevice.
type Config struct {
	adapter uint
	device  uint
	slot    uint8

	resetDelay      time.Duration
	capsRetryCount  int
	capsRetryDelay  time.Duration
	tickInterval    time.Duration
	pollInterval    time.Duration
	responseTimeout time.Duration
	writeTimeout    time.Duration
	readBufferSize  int

	opener   Opener
	registry *resource.Registry
	logger   logger.Logger
}

// NewConfig creates the configuration for /dev/dvb/adapter{adapter}/ca{device},
// driving the given slot.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(adapter uint, device uint, slot uint8, opts ...Option) (*Config, error) {
	cfg := &Config{
		adapter:         adapter,
		device:          device,
		slot:            slot,
		resetDelay:      DefaultResetDelay,
		capsRetryCount:  DefaultCapsRetryCount,
		capsRetryDelay:  DefaultCapsRetryDelay,
		tickInterval:    DefaultTickInterval,
		pollInterval:    DefaultPollInterval,
		responseTimeout: DefaultResponseTimeout,
		writeTimeout:    DefaultWriteTimeout,
		readBufferSize:  DefaultReadBufferSize,
		opener:          OpenDevice,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.registry == nil {
		cfg.registry = resource.NewRegistry()
	}

	return cfg, nil
}

// Path returns the device node path.
func (cfg *Config) Path() string { return DevicePath(cfg.adapter, cfg.device) }

// Adapter returns the DVB adapter number.
func (cfg *Config) Adapter() uint { return cfg.adapter }

// Device returns the CA device number within the adapter.
func (cfg *Config) Device() uint { return cfg.device }

// Slot returns the requested slot index.
func (cfg *Config) Slot() uint8 { return cfg.slot }

// ResetDelay returns the settle delay after a reset.
func (cfg *Config) ResetDelay() time.Duration { return cfg.resetDelay }

// CapsRetry returns the number of capability queries and the delay between them.
func (cfg *Config) CapsRetry() (int, time.Duration) { return cfg.capsRetryCount, cfg.capsRetryDelay }

// TickInterval returns the slot polling period used by Run.
func (cfg *Config) TickInterval() time.Duration { return cfg.tickInterval }

// PollInterval returns the idle link poll period.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// ResponseTimeout returns the maximum wait for a module response.
func (cfg *Config) ResponseTimeout() time.Duration { return cfg.responseTimeout }

// WriteTimeout returns the maximum time spent draining one TPDU.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// Registry returns the resource registry.
func (cfg *Config) Registry() *resource.Registry { return cfg.registry }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("ca: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithRegistry sets the registry resolving the resources requested by modules.
func WithRegistry(r *resource.Registry) Option {
	return optFunc(func(cfg *Config) error {
		if r == nil {
			return errors.New("ca: registry must not be nil")
		}
		cfg.registry = r

		return nil
	})
}

// WithOpener replaces the function opening the device node.
func WithOpener(o Opener) Option {
	return optFunc(func(cfg *Config) error {
		if o == nil {
			return errors.New("ca: opener must not be nil")
		}
		cfg.opener = o

		return nil
	})
}

// WithResetDelay sets the settle delay after CA_RESET. Range: 0 to 5s.
func WithResetDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxResetDelay {
			return fmt.Errorf("ca: reset delay %v out of range [0, %v]", d, MaxResetDelay)
		}
		cfg.resetDelay = d

		return nil
	})
}

// WithCapsRetry sets how many times the capabilities are queried until a
// slot is reported, and the delay between attempts. Slow CAMs can take a
// few hundred milliseconds to enumerate after a reset.
func WithCapsRetry(count int, delay time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if count < 1 || count > MaxCapsRetryCount {
			return fmt.Errorf("ca: caps retry count %d out of range [1, %d]", count, MaxCapsRetryCount)
		}
		if delay < 0 {
			return errors.New("ca: caps retry delay must not be negative")
		}
		cfg.capsRetryCount = count
		cfg.capsRetryDelay = delay

		return nil
	})
}

// WithTickInterval sets the slot polling period used by Run. Range: 10ms to 10s.
func WithTickInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinTickInterval || d > MaxTickInterval {
			return fmt.Errorf("ca: tick interval %v out of range [%v, %v]", d, MinTickInterval, MaxTickInterval)
		}
		cfg.tickInterval = d

		return nil
	})
}

// WithPollInterval sets how often an idle transport connection is polled
// for module data. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("ca: poll interval must not be negative")
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithResponseTimeout sets how long a command may wait for the module's
// response before the transport connection is re-created.
func WithResponseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("ca: response timeout must be positive")
		}
		cfg.responseTimeout = d

		return nil
	})
}

// WithWriteTimeout sets how long a TPDU write keeps retrying a device that would block.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("ca: write timeout must be positive")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithReadBufferSize sets the size of the frame read buffer.
func WithReadBufferSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < MinReadBufferSize {
			return fmt.Errorf("ca: read buffer size %d below minimum %d", size, MinReadBufferSize)
		}
		cfg.readBufferSize = size

		return nil
	})
}
