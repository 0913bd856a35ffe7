package rules

import "fmt"

// ConfigError is returned when the rule document is missing or malformed
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rules: invalid rule document %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
