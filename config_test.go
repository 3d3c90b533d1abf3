package escrow_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/escrow"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := escrow.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ConfirmationTimeout != 60*time.Second {
		t.Errorf("ConfirmationTimeout = %v, want 60s", cfg.ConfirmationTimeout)
	}
	if cfg.WidgetRestockLevel != 100 {
		t.Errorf("WidgetRestockLevel = %d, want 100", cfg.WidgetRestockLevel)
	}
}

func TestNewConfig_Options(t *testing.T) {
	cfg, err := escrow.NewConfig(
		escrow.WithConfirmationTimeout(5*time.Second),
		escrow.WithHosts("http://pay", "http://local", "http://front"),
		escrow.WithBank("alpha", 9000),
		escrow.WithDispatch(3, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.ConfirmationTimeout != 5*time.Second {
		t.Errorf("ConfirmationTimeout = %v", cfg.ConfirmationTimeout)
	}
	if cfg.PaymentHost != "http://pay" || cfg.LocalHost != "http://local" || cfg.FrontendHost != "http://front" {
		t.Errorf("unexpected hosts: %+v", cfg)
	}
	if cfg.BankName != "alpha" || cfg.BankPort != 9000 {
		t.Errorf("unexpected bank: %s:%d", cfg.BankName, cfg.BankPort)
	}
	if cfg.DispatchSteps != 3 {
		t.Errorf("DispatchSteps = %d, want 3", cfg.DispatchSteps)
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  escrow.Option
	}{
		{"zero confirmation", escrow.WithConfirmationTimeout(0)},
		{"negative handoff", escrow.WithHandoffTimeout(-time.Second)},
		{"missing hosts", escrow.WithHosts("", "", "")},
		{"empty bank", escrow.WithBank("", 1)},
		{"zero poll", escrow.WithSignalPollInterval(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := escrow.NewConfig(tt.opt)
			if !errors.Is(err, escrow.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ESCROW_CONFIRMATION_TIMEOUT", "2s")
	t.Setenv("ESCROW_BANK_NAME", "beta")
	t.Setenv("ESCROW_BANK_PORT", "not-a-number")
	t.Setenv("ESCROW_CALLOUT_RATE_LIMIT", "2.5")

	cfg, err := escrow.LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.ConfirmationTimeout != 2*time.Second {
		t.Errorf("ConfirmationTimeout = %v, want 2s", cfg.ConfirmationTimeout)
	}
	if cfg.BankName != "beta" {
		t.Errorf("BankName = %q, want beta", cfg.BankName)
	}
	if cfg.BankPort != escrow.DefaultConfig().BankPort {
		t.Errorf("malformed port should keep default, got %d", cfg.BankPort)
	}
	if cfg.CalloutRateLimit != 2.5 {
		t.Errorf("CalloutRateLimit = %v, want 2.5", cfg.CalloutRateLimit)
	}
}
