package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/keys"
	"github.com/georgepadayatti/sigtrust/sign/validation"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrUnexpectedField    = errors.New("unexpected field in configuration")
	ErrInvalidConfigType  = errors.New("configuration must be a dictionary")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// Validation policies.
const (
	PolicyDefault = "default"
	PolicyStrict  = "strict"
	PolicyLenient = "lenient"
)

// ValidationConfig contains validation configuration.
type ValidationConfig struct {
	// Policy selects the preset for the exception flags: "default",
	// "strict" or "lenient".
	Policy string `yaml:"policy" json:"policy,omitempty"`

	// TrustAnchors contains paths to trust anchor certificate files.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// OtherCerts contains paths to other certificate files.
	OtherCerts []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// CRLs contains paths to CRL files supplied next to the signature.
	CRLs []string `yaml:"crls" json:"crls,omitempty"`

	// OCSPResponses contains paths to OCSP response files supplied next to
	// the signature.
	OCSPResponses []string `yaml:"ocsp-responses" json:"ocsp_responses,omitempty"`

	// The exception flags override the policy preset when set.
	ExceptionOnInvalidTimestamp      *bool `yaml:"exception-on-invalid-timestamp" json:"exception_on_invalid_timestamp,omitempty"`
	ExceptionOnMissingRevocationData *bool `yaml:"exception-on-missing-revocation-data" json:"exception_on_missing_revocation_data,omitempty"`
	ExceptionOnUncoveredPOE          *bool `yaml:"exception-on-uncovered-poe" json:"exception_on_uncovered_poe,omitempty"`
	ExceptionOnRevokedCertificate    *bool `yaml:"exception-on-revoked-certificate" json:"exception_on_revoked_certificate,omitempty"`

	// StatusCacheSize is the revocation status cache size. Zero selects the
	// default; a negative value disables caching.
	StatusCacheSize int `yaml:"status-cache-size" json:"status_cache_size,omitempty"`
}

// SetDefaults sets default values for validation configuration.
func (c *ValidationConfig) SetDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyDefault
	}
}

// Validate validates the validation configuration.
func (c *ValidationConfig) Validate() error {
	switch c.Policy {
	case "", PolicyDefault, PolicyStrict, PolicyLenient:
	default:
		return NewConfigError("validation.policy",
			fmt.Sprintf("'%s' is not one of %s, %s, %s", c.Policy, PolicyDefault, PolicyStrict, PolicyLenient))
	}
	return nil
}

// LoadTrustAnchors loads the trust anchor certificates.
func (c *ValidationConfig) LoadTrustAnchors() ([]*x509.Certificate, error) {
	if len(c.TrustAnchors) == 0 {
		return nil, nil
	}
	certs, err := keys.LoadCertsFromPemDerFiles(c.TrustAnchors)
	if err != nil {
		return nil, fmt.Errorf("failed to load trust anchors: %w", err)
	}
	return certs, nil
}

// LoadOtherCerts loads the additional certificates from the configured files.
func (c *ValidationConfig) LoadOtherCerts() ([]*x509.Certificate, error) {
	if len(c.OtherCerts) == 0 {
		return nil, nil
	}
	certs, err := keys.LoadCertsFromPemDerFiles(c.OtherCerts)
	if err != nil {
		return nil, fmt.Errorf("failed to load other certs: %w", err)
	}
	return certs, nil
}

// CertificateVerifier builds a verifier from the policy preset, the flag
// overrides and the configured revocation files.
func (c *ValidationConfig) CertificateVerifier() (*validation.CertificateVerifier, error) {
	var cv *validation.CertificateVerifier
	switch c.Policy {
	case PolicyStrict:
		cv = validation.StrictCertificateVerifier()
	case PolicyLenient:
		cv = validation.LenientCertificateVerifier()
	default:
		cv = validation.DefaultCertificateVerifier()
	}
	override := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	override(&cv.ExceptionOnInvalidTimestamp, c.ExceptionOnInvalidTimestamp)
	override(&cv.ExceptionOnMissingRevocationData, c.ExceptionOnMissingRevocationData)
	override(&cv.ExceptionOnUncoveredPOE, c.ExceptionOnUncoveredPOE)
	override(&cv.ExceptionOnRevokedCertificate, c.ExceptionOnRevokedCertificate)
	cv.StatusCacheSize = c.StatusCacheSize

	var crls [][]byte
	for _, name := range c.CRLs {
		loaded, err := keys.LoadCRLsFromPemDer(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load CRLs: %w", err)
		}
		crls = append(crls, loaded...)
	}
	if len(crls) > 0 {
		cv.AdjunctCRLSource = revinfo.NewOfflineCRLSource(crls...)
	}

	var responses [][]byte
	for _, name := range c.OCSPResponses {
		loaded, err := keys.LoadOCSPResponsesFromPemDer(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load OCSP responses: %w", err)
		}
		responses = append(responses, loaded...)
	}
	if len(responses) > 0 {
		src, err := revinfo.ParseOfflineOCSPSource(responses...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse OCSP responses: %w", err)
		}
		cv.AdjunctOCSPSource = src
	}
	return cv, nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return NewConfigError("logging.level", fmt.Sprintf("unknown level '%s'", c.Level))
	}
	switch c.Format {
	case "", "text", "json":
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown format '%s'", c.Format))
	}
	return nil
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled turns metrics collection on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" json:"namespace,omitempty"`

	// File is the path the metrics are written to in the Prometheus text
	// format after a run.
	File string `yaml:"file" json:"file,omitempty"`
}

// SetDefaults sets default values for metrics configuration.
func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "sigtrust"
	}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Validation contains validation configuration.
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`

	// Metrics contains metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics,omitempty"`
}

// Known keys per configuration section.
var configKeys = map[string][]string{
	"": {"validation", "logging", "metrics"},
	"validation": {
		"policy", "trust-anchors", "other-certs", "crls", "ocsp-responses",
		"exception-on-invalid-timestamp", "exception-on-missing-revocation-data",
		"exception-on-uncovered-poe", "exception-on-revoked-certificate",
		"status-cache-size",
	},
	"logging": {"level", "format", "output"},
	"metrics": {"enabled", "namespace", "file"},
}

// DefaultAppConfig returns a configuration with every section defaulted.
func DefaultAppConfig() *AppConfig {
	c := &AppConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults fills in missing sections and default values.
func (c *AppConfig) SetDefaults() {
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	c.Validation.SetDefaults()
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	c.Metrics.SetDefaults()
}

// Validate validates every section.
func (c *AppConfig) Validate() error {
	if c.Validation != nil {
		if err := c.Validation.Validate(); err != nil {
			return err
		}
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadAppConfig loads the complete application configuration from a file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAppConfig(data)
}

// ParseAppConfig parses configuration from YAML data. Unknown keys are
// rejected; missing values are defaulted.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := checkSections(raw); err != nil {
		return nil, err
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func checkSections(raw map[string]any) error {
	if err := CheckConfigKeys("sigtrust", configKeys[""], mapKeys(raw)); err != nil {
		return err
	}
	for section, value := range raw {
		if value == nil {
			continue
		}
		fields, ok := value.(map[string]any)
		if !ok {
			return &ConfigError{Field: section, Message: ErrInvalidConfigType.Error(), Err: ErrInvalidConfigType}
		}
		if err := CheckConfigKeys(section, configKeys[normalizeKey(section)], mapKeys(fields)); err != nil {
			return err
		}
	}
	return nil
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CheckConfigKeys checks if all provided keys are valid for a given configuration type.
func CheckConfigKeys(configName string, expectedKeys, suppliedKeys []string) error {
	expectedSet := make(map[string]bool)
	for _, k := range expectedKeys {
		// Normalize to use dashes
		expectedSet[normalizeKey(k)] = true
	}

	var unexpected []string
	for _, k := range suppliedKeys {
		normalized := normalizeKey(k)
		if !expectedSet[normalized] {
			unexpected = append(unexpected, k)
		}
	}

	if len(unexpected) > 0 {
		keyWord := "key"
		if len(unexpected) > 1 {
			keyWord = "keys"
		}
		return fmt.Errorf("%w: unexpected %s in configuration for %s: %s",
			ErrUnexpectedField, keyWord, configName, strings.Join(unexpected, ", "))
	}

	return nil
}

// normalizeKey normalizes a configuration key (underscores to dashes).
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
