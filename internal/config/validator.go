package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "bridge.batch_delay_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// nameRegex validates platform and adapter identifiers.
// Names start with a lowercase letter and may contain lowercase letters,
// digits, hyphen and underscore.
var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Bridge config
	errors = append(errors, c.validateBridge()...)

	// Validate Subscriber config
	errors = append(errors, c.validateSubscriber()...)

	// Validate Storage config
	errors = append(errors, c.validateStorage()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateBridge validates the BridgeConfig
func (c *Config) validateBridge() []ValidationError {
	var errors []ValidationError
	b := c.Bridge

	if b.ErrorDebounceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.error_debounce_seconds",
			Value:   b.ErrorDebounceSeconds,
			Message: "must be non-negative (0 disables debouncing)",
		})
	}

	if b.AutoApproveMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.auto_approve_minutes",
			Value:   b.AutoApproveMinutes,
			Message: "must be positive",
		})
	}

	// A day is the longest window a human plausibly means
	const maxAutoApproveMinutes = 24 * 60
	if b.AutoApproveMinutes > maxAutoApproveMinutes {
		errors = append(errors, ValidationError{
			Field:   "bridge.auto_approve_minutes",
			Value:   b.AutoApproveMinutes,
			Message: fmt.Sprintf("exceeds maximum of %d minutes", maxAutoApproveMinutes),
		})
	}

	if b.BatchDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.batch_delay_ms",
			Value:   b.BatchDelayMs,
			Message: "must be non-negative",
		})
	}

	if b.DefaultPlatform != "" && !nameRegex.MatchString(b.DefaultPlatform) {
		errors = append(errors, ValidationError{
			Field:   "bridge.default_platform",
			Value:   b.DefaultPlatform,
			Message: "must start with a lowercase letter and contain only lowercase letters, digits, hyphen, underscore",
		})
	}

	if b.DefaultAdapter != "" && !nameRegex.MatchString(b.DefaultAdapter) {
		errors = append(errors, ValidationError{
			Field:   "bridge.default_adapter",
			Value:   b.DefaultAdapter,
			Message: "must start with a lowercase letter and contain only lowercase letters, digits, hyphen, underscore",
		})
	}

	// Names shorter than this leave no room for the project part
	const minThreadNameLen = 8
	if b.ThreadNameMaxLen < minThreadNameLen {
		errors = append(errors, ValidationError{
			Field:   "bridge.thread_name_max_len",
			Value:   b.ThreadNameMaxLen,
			Message: fmt.Sprintf("must be at least %d", minThreadNameLen),
		})
	}

	if b.TypingRefreshSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.typing_refresh_seconds",
			Value:   b.TypingRefreshSeconds,
			Message: "must be positive",
		})
	}

	if b.ExternalPageSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.external_page_size",
			Value:   b.ExternalPageSize,
			Message: "must be positive",
		})
	}

	return errors
}

// validateSubscriber validates the SubscriberConfig
func (c *Config) validateSubscriber() []ValidationError {
	var errors []ValidationError

	if c.Subscriber.OutputFlushDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "subscriber.output_flush_delay_ms",
			Value:   c.Subscriber.OutputFlushDelayMs,
			Message: "must be non-negative",
		})
	}

	if c.Subscriber.OutputFlushMaxChars <= 0 {
		errors = append(errors, ValidationError{
			Field:   "subscriber.output_flush_max_chars",
			Value:   c.Subscriber.OutputFlushMaxChars,
			Message: "must be positive",
		})
	}

	return errors
}

// validateStorage validates the StorageConfig
func (c *Config) validateStorage() []ValidationError {
	var errors []ValidationError

	if c.Storage.Backend != "" && !slices.Contains(ValidStorageBackends(), c.Storage.Backend) {
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Value:   c.Storage.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStorageBackends(), ", ")),
		})
	}

	errors = append(errors, validatePath(c.Storage.Path, "storage.path")...)

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	errors = append(errors, validatePath(c.Logging.Dir, "logging.dir")...)

	return errors
}

// validatePath checks an optional filesystem path for characters and
// lengths no filesystem accepts
func validatePath(path, field string) []ValidationError {
	if path == "" {
		return nil
	}
	var errors []ValidationError

	// Check for null bytes which are invalid in paths
	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	// Reasonable path length limit (most filesystems have limits around 4096)
	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}
