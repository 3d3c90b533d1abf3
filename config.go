package escrow

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the settings shared by the engine and the business
// workflows. It is passed explicitly to every component at construction.
type Config struct {
	// ConfirmationTimeout bounds the await phase of a checkout saga.
	ConfirmationTimeout time.Duration

	// HandoffTimeout is how long a caller waits for the intermediate
	// signal (payment URL, payment ID) before giving up.
	HandoffTimeout time.Duration

	// ResultTimeout is how long a caller waits for the final signal
	// (order ID) of a saga.
	ResultTimeout time.Duration

	// PaymentSessionTimeout bounds how long a payment session waits for
	// the customer to submit or cancel.
	PaymentSessionTimeout time.Duration

	// PaymentHost is the base URL of the payment processor.
	PaymentHost string

	// LocalHost is the externally reachable base URL of this server, used
	// to build webhook URLs.
	LocalHost string

	// FrontendHost is the base URL the payment processor uses when
	// building customer-facing session URLs.
	FrontendHost string

	// BankName and BankPort identify this bank to peers in remote
	// transfer records.
	BankName string
	BankPort int

	// CalloutTimeout bounds a single outbound remote call.
	CalloutTimeout time.Duration

	// CalloutRateLimit caps outbound remote calls per second. Zero
	// disables limiting.
	CalloutRateLimit float64

	// SignalPollInterval is how often timed waits poll the store.
	SignalPollInterval time.Duration

	// RecoverySchedule is the cron expression driving the recovery sweep.
	RecoverySchedule string

	// StaleAfter is how long a running execution may go without an
	// update before the recovery sweep resumes it.
	StaleAfter time.Duration

	// MaxFatalRetries caps automatic retries of dead-lettered executions.
	MaxFatalRetries int

	// WidgetRestockLevel is the inventory the widget store restocks to.
	WidgetRestockLevel int

	// DispatchSteps and DispatchInterval drive widget order dispatch
	// progress.
	DispatchSteps    int
	DispatchInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfirmationTimeout:   60 * time.Second,
		HandoffTimeout:        60 * time.Second,
		ResultTimeout:         60 * time.Second,
		PaymentSessionTimeout: 24 * time.Hour,
		PaymentHost:           "http://localhost:8086/payment",
		LocalHost:             "http://localhost:8086",
		FrontendHost:          "http://localhost:8086/payment",
		BankName:              "escrow-bank",
		BankPort:              8086,
		CalloutTimeout:        10 * time.Second,
		SignalPollInterval:    10 * time.Millisecond,
		RecoverySchedule:      "@every 30s",
		StaleAfter:            2 * time.Minute,
		MaxFatalRetries:       5,
		WidgetRestockLevel:    100,
		DispatchSteps:         10,
		DispatchInterval:      time.Second,
	}
}

// Option adjusts a Config.
type Option func(*Config) error

// NewConfig builds a Config from the defaults and the given options and
// validates the result.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.ConfirmationTimeout <= 0:
		return fmt.Errorf("%w: confirmation timeout must be positive", ErrInvalidConfig)
	case c.HandoffTimeout <= 0:
		return fmt.Errorf("%w: handoff timeout must be positive", ErrInvalidConfig)
	case c.SignalPollInterval <= 0:
		return fmt.Errorf("%w: signal poll interval must be positive", ErrInvalidConfig)
	case c.PaymentHost == "" || c.LocalHost == "":
		return fmt.Errorf("%w: payment and local hosts are required", ErrInvalidConfig)
	case c.CalloutRateLimit < 0:
		return fmt.Errorf("%w: callout rate limit must not be negative", ErrInvalidConfig)
	case c.DispatchSteps < 0:
		return fmt.Errorf("%w: dispatch steps must not be negative", ErrInvalidConfig)
	}
	return nil
}

// WithConfirmationTimeout sets the await phase deadline.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.ConfirmationTimeout = d
		return nil
	}
}

// WithHandoffTimeout sets how long callers wait for intermediate signals.
func WithHandoffTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.HandoffTimeout = d
		return nil
	}
}

// WithHosts sets the payment processor, local and frontend base URLs.
func WithHosts(payment, local, frontend string) Option {
	return func(c *Config) error {
		c.PaymentHost = payment
		c.LocalHost = local
		c.FrontendHost = frontend
		return nil
	}
}

// WithBank sets the name and port this bank reports to its peers.
func WithBank(name string, port int) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("%w: bank name is required", ErrInvalidConfig)
		}
		c.BankName = name
		c.BankPort = port
		return nil
	}
}

// WithSignalPollInterval sets how often timed waits poll the store.
func WithSignalPollInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.SignalPollInterval = d
		return nil
	}
}

// WithDispatch sets the widget dispatch progress shape.
func WithDispatch(steps int, interval time.Duration) Option {
	return func(c *Config) error {
		c.DispatchSteps = steps
		c.DispatchInterval = interval
		return nil
	}
}

// LoadConfigFromEnv overlays ESCROW_* environment variables on the
// defaults. Unset or malformed variables keep their default values.
func LoadConfigFromEnv() (Config, error) {
	d := DefaultConfig()
	cfg := Config{
		ConfirmationTimeout:   getEnvDuration("ESCROW_CONFIRMATION_TIMEOUT", d.ConfirmationTimeout),
		HandoffTimeout:        getEnvDuration("ESCROW_HANDOFF_TIMEOUT", d.HandoffTimeout),
		ResultTimeout:         getEnvDuration("ESCROW_RESULT_TIMEOUT", d.ResultTimeout),
		PaymentSessionTimeout: getEnvDuration("ESCROW_PAYMENT_SESSION_TIMEOUT", d.PaymentSessionTimeout),
		PaymentHost:           getEnv("ESCROW_PAYMENT_HOST", d.PaymentHost),
		LocalHost:             getEnv("ESCROW_LOCAL_HOST", d.LocalHost),
		FrontendHost:          getEnv("ESCROW_FRONTEND_HOST", d.FrontendHost),
		BankName:              getEnv("ESCROW_BANK_NAME", d.BankName),
		BankPort:              getEnvInt("ESCROW_BANK_PORT", d.BankPort),
		CalloutTimeout:        getEnvDuration("ESCROW_CALLOUT_TIMEOUT", d.CalloutTimeout),
		CalloutRateLimit:      getEnvFloat("ESCROW_CALLOUT_RATE_LIMIT", d.CalloutRateLimit),
		SignalPollInterval:    getEnvDuration("ESCROW_SIGNAL_POLL_INTERVAL", d.SignalPollInterval),
		RecoverySchedule:      getEnv("ESCROW_RECOVERY_SCHEDULE", d.RecoverySchedule),
		StaleAfter:            getEnvDuration("ESCROW_STALE_AFTER", d.StaleAfter),
		MaxFatalRetries:       getEnvInt("ESCROW_MAX_FATAL_RETRIES", d.MaxFatalRetries),
		WidgetRestockLevel:    getEnvInt("ESCROW_WIDGET_RESTOCK_LEVEL", d.WidgetRestockLevel),
		DispatchSteps:         getEnvInt("ESCROW_DISPATCH_STEPS", d.DispatchSteps),
		DispatchInterval:      getEnvDuration("ESCROW_DISPATCH_INTERVAL", d.DispatchInterval),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
