package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/stampede/internal/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the paths of all failing fields.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Field
	}
	return out
}

// Validate validates the entire configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
// Threshold metric names are checked later against the declared metrics.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)

	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	for i, stage := range c.Stages {
		validateStage(fmt.Sprintf("stages[%d]", i), &stage, errs)
	}

	for _, metric := range sortedKeys(c.Thresholds) {
		for i, tc := range c.Thresholds[metric] {
			validateThreshold(fmt.Sprintf("thresholds.%s[%d]", metric, i), &tc, errs)
		}
	}

	if err := c.Journey.CheckoutConfig().Validate(); err != nil {
		errs.Add("journey", err.Error())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateSettings validates global settings.
func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.BaseURL == "" {
		errs.Add("settings.baseUrl", "baseUrl is required")
	} else {
		u, err := url.Parse(s.BaseURL)
		switch {
		case err != nil:
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs.Add("settings.baseUrl", fmt.Sprintf("unsupported scheme %q (want http or https)", u.Scheme))
		case u.Host == "":
			errs.Add("settings.baseUrl", "URL has no host")
		}
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.Tick < 0 {
		errs.Add("settings.tick", "tick cannot be negative")
	}
	if s.GracefulStop < 0 {
		errs.Add("settings.gracefulStop", "gracefulStop cannot be negative")
	}
	if s.ThresholdInterval < 0 {
		errs.Add("settings.thresholdInterval", "thresholdInterval cannot be negative")
	}
	if _, err := threshold.ParseNoDataPolicy(s.NoData); err != nil {
		errs.Add("settings.noData", err.Error())
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
}

// validateStage validates a single stage.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateThreshold validates a single threshold expression.
func validateThreshold(prefix string, tc *ThresholdConfig, errs *ValidationErrors) {
	if strings.TrimSpace(tc.Threshold) == "" {
		errs.Add(prefix, "threshold expression is required")
		return
	}
	if _, err := threshold.Parse(tc.Threshold); err != nil {
		errs.Add(prefix, err.Error())
	}
	if tc.DelayAbortEval < 0 {
		errs.Add(prefix+".delayAbortEval", "delayAbortEval cannot be negative")
	}
	if tc.DelayAbortEval > 0 && !tc.AbortOnFail {
		errs.Add(prefix+".delayAbortEval", "delayAbortEval requires abortOnFail")
	}
}
