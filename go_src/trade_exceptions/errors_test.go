package trade_exceptions

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("virtual.custom", "custom instant is required for strategy %s", "CUSTOM")
	expected := "ConfigurationError: custom instant is required for strategy CUSTOM (Key: virtual.custom)"
	if err.Error() != expected {
		t.Errorf("Expected error string '%s', got '%s'", expected, err.Error())
	}
	wrapped := fmt.Errorf("loading calendar: %w", err)
	if !IsConfigurationError(wrapped) {
		t.Errorf("Expected IsConfigurationError to see through wrapping")
	}
	if IsConfigurationError(errors.New("plain")) {
		t.Errorf("Expected plain error not to be a ConfigurationError")
	}
}

func TestNamingConflictError(t *testing.T) {
	err := &NamingConflictError{Name: "XNYS"}
	if !strings.Contains(err.Error(), "'XNYS'") {
		t.Errorf("Error string does not contain calendar name: %s", err.Error())
	}
}

func TestResolutionErrorUnwrap(t *testing.T) {
	cause := errors.New("holiday source down")
	err := NewResolutionError("XNYS", 20240105, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("Expected errors.Is to find the cause")
	}
	expected := "ResolutionError: calendar XNYS, date 20240105: holiday source down"
	if err.Error() != expected {
		t.Errorf("Expected error string '%s', got '%s'", expected, err.Error())
	}

	if NewResolutionError("XNYS", 0, nil) != nil {
		t.Errorf("Expected nil for nil cause")
	}
}

func TestResolutionErrorNotDoubleWrapped(t *testing.T) {
	inner := NewResolutionError("", 20240105, ErrNoTradingDay)
	outer := NewResolutionError("XNYS", 0, fmt.Errorf("pass: %w", inner))

	var re *ResolutionError
	if !errors.As(outer, &re) {
		t.Fatalf("Expected a ResolutionError")
	}
	if re.Calendar != "XNYS" || re.Date != 20240105 {
		t.Errorf("Expected calendar XNYS and date 20240105, got %s/%d", re.Calendar, re.Date)
	}
	if !errors.Is(outer, ErrNoTradingDay) {
		t.Errorf("Expected ErrNoTradingDay to be reachable")
	}
}
