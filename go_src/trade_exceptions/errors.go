package trade_exceptions

import (
	"errors"
	"fmt"
)

// ErrNoTradingDay is returned when the bounded day search exhausts its lookahead.
var ErrNoTradingDay = errors.New("no trading day found within lookahead")

// ConfigurationError is fatal and raised at construction or reload time.
type ConfigurationError struct {
	Message string
	Key     string // Config key that was problematic
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ConfigurationError: %s (Key: %s)", e.Message, e.Key)
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(key, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...), Key: key}
}

// NamingConflictError is raised when a calendar name is already bound to another instance.
type NamingConflictError struct {
	Name string
}

func (e *NamingConflictError) Error() string {
	return fmt.Sprintf("NamingConflictError: calendar name '%s' is already bound to a different calendar", e.Name)
}

// ResolutionError wraps a failure that happened while resolving the trade date of a calendar.
// It is recoverable: the manager retries scheduled passes that fail with it.
type ResolutionError struct {
	Calendar string
	Date     int // YYYYMMDD anchor of the failing pass, 0 for "now"
	Err      error
}

func (e *ResolutionError) Error() string {
	name := e.Calendar
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("ResolutionError: calendar %s, date %d: %v", name, e.Date, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NewResolutionError wraps err unless it already is a ResolutionError.
func NewResolutionError(calendar string, date int, err error) error {
	if err == nil {
		return nil
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		if re.Calendar == "" && calendar != "" {
			return &ResolutionError{Calendar: calendar, Date: re.Date, Err: re.Err}
		}
		return err
	}
	return &ResolutionError{Calendar: calendar, Date: date, Err: err}
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
