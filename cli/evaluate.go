package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/config"
	"github.com/georgepadayatti/sigtrust/metrics"
	"github.com/georgepadayatti/sigtrust/sign/ades"
	"github.com/georgepadayatti/sigtrust/sign/bundle"
	"github.com/georgepadayatti/sigtrust/sign/validation"
)

// EvaluateOptions contains options for the evaluate command.
type EvaluateOptions struct {
	Bundles     []string
	JSON        bool
	YAML        bool
	MetricsFile string
}

// validationFlags override the validation section of the configuration.
var validationFlags = []string{
	"policy", "trust-anchor", "other-cert", "crl", "ocsp", "status-cache-size",
	"fail-on-invalid-timestamp", "fail-on-missing-revocation",
	"fail-on-uncovered-poe", "fail-on-revoked",
}

// applyValidationFlags copies the flags set on the command line, or through
// the environment, into c. Certificate and revocation files add to the
// configured ones.
func applyValidationFlags(c *config.ValidationConfig, v *viper.Viper) {
	for _, name := range validationFlags {
		if !v.IsSet(name) {
			continue
		}
		switch name {
		case "policy":
			c.Policy = v.GetString(name)
		case "trust-anchor":
			c.TrustAnchors = append(c.TrustAnchors, v.GetStringSlice(name)...)
		case "other-cert":
			c.OtherCerts = append(c.OtherCerts, v.GetStringSlice(name)...)
		case "crl":
			c.CRLs = append(c.CRLs, v.GetStringSlice(name)...)
		case "ocsp":
			c.OCSPResponses = append(c.OCSPResponses, v.GetStringSlice(name)...)
		case "status-cache-size":
			c.StatusCacheSize = v.GetInt(name)
		case "fail-on-invalid-timestamp":
			c.ExceptionOnInvalidTimestamp = boolPtr(v.GetBool(name))
		case "fail-on-missing-revocation":
			c.ExceptionOnMissingRevocationData = boolPtr(v.GetBool(name))
		case "fail-on-uncovered-poe":
			c.ExceptionOnUncoveredPOE = boolPtr(v.GetBool(name))
		case "fail-on-revoked":
			c.ExceptionOnRevokedCertificate = boolPtr(v.GetBool(name))
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func newEvaluateCommand(v *viper.Viper) *cobra.Command {
	opts := &EvaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate --bundle <bundle.yaml> [flags]",
		Short: "Evaluate the long-term validity of signature bundles",
		Example: `  sigtrust evaluate --bundle signature.yaml --trust-anchor root.pem
  sigtrust evaluate --bundle a.yaml --bundle b.yaml --policy strict --json
  sigtrust evaluate --config sigtrust.yaml --bundle signature.yaml --metrics-file sigtrust.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd, v, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.Bundles, "bundle", nil, "signature bundle manifest (repeatable)")
	flags.StringSlice("trust-anchor", nil, "trust anchor certificate file, PEM or DER (repeatable)")
	flags.StringSlice("other-cert", nil, "additional certificate file, PEM or DER (repeatable)")
	flags.StringSlice("crl", nil, "CRL file supplied next to the signatures (repeatable)")
	flags.StringSlice("ocsp", nil, "OCSP response file supplied next to the signatures (repeatable)")
	flags.String("policy", "", "validation policy: default, strict, lenient")
	flags.Bool("fail-on-invalid-timestamp", false, "fail when a timestamp is invalid")
	flags.Bool("fail-on-missing-revocation", false, "fail when required revocation data is missing")
	flags.Bool("fail-on-uncovered-poe", false, "fail when revocation data does not cover the proof of existence")
	flags.Bool("fail-on-revoked", false, "fail when a certificate is revoked")
	flags.Int("status-cache-size", 0, "revocation status cache size, negative to disable")
	flags.BoolVar(&opts.JSON, "json", false, "output the report as JSON")
	flags.BoolVar(&opts.YAML, "yaml", false, "output the report as YAML")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	_ = cmd.MarkFlagRequired("bundle")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")

	for _, name := range validationFlags {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func runEvaluate(cmd *cobra.Command, v *viper.Viper, opts *EvaluateOptions) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	applyValidationFlags(cfg.Validation, v)
	if err := cfg.Validation.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Logging, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	pool, err := buildPool(cfg.Validation)
	if err != nil {
		return err
	}

	cv, err := cfg.Validation.CertificateVerifier()
	if err != nil {
		return err
	}
	cv.Logger = logger

	metricsFile := opts.MetricsFile
	if metricsFile == "" && cfg.Metrics.Enabled {
		metricsFile = cfg.Metrics.File
	}
	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled || metricsFile != "" {
		recorder = metrics.NewRecorder(cfg.Metrics.Namespace)
		cv.Metrics = recorder
	}

	report := ades.NewValidationReport(uuid.NewString())
	report.Policy = cfg.Validation.Policy
	for _, path := range opts.Bundles {
		info, err := evaluateBundle(path, pool, cv, logger)
		if err != nil {
			return err
		}
		report.AddSignature(info)
	}
	report.ComputeOverallConclusion()

	if err := writeReport(cmd.OutOrStdout(), report, opts); err != nil {
		return err
	}

	if recorder != nil && metricsFile != "" {
		if err := recorder.WriteTextfile(metricsFile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	switch {
	case report.Conclusion.IsPassed():
		return nil
	case report.Conclusion.IsFailed():
		return &ExitCodeError{Code: ExitFailed, Indication: report.Conclusion.Indication}
	default:
		return &ExitCodeError{Code: ExitIndeterminate, Indication: report.Conclusion.Indication}
	}
}

func buildPool(cfg *config.ValidationConfig) (*certvalidator.CertificatePool, error) {
	anchors, err := cfg.LoadTrustAnchors()
	if err != nil {
		return nil, err
	}
	others, err := cfg.LoadOtherCerts()
	if err != nil {
		return nil, err
	}
	pool := certvalidator.BuildCertificatePool(anchors)
	for _, cert := range others {
		pool.Add(cert)
	}
	return pool, nil
}

func evaluateBundle(path string, pool *certvalidator.CertificatePool, cv *validation.CertificateVerifier, logger *slog.Logger) (*ades.SignatureInfo, error) {
	b, err := bundle.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle %s: %w", path, err)
	}
	sig, err := b.Signature(pool, ades.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to read signature from %s: %w", path, err)
	}

	start := time.Now()
	vc, err := sig.Evaluate(cv)
	logger.Debug("signature evaluated",
		"bundle", path,
		"signature", sig.ID(),
		"level", sig.DataFoundUpToLevel().String(),
		"elapsed", time.Since(start),
		"error", err,
	)
	return ades.NewSignatureInfo(sig, vc, err), nil
}

func writeReport(w io.Writer, report *ades.ValidationReport, opts *EvaluateOptions) error {
	var (
		out []byte
		err error
	)
	switch {
	case opts.JSON:
		out, err = report.ToJSON()
		out = append(out, '\n')
	case opts.YAML:
		out, err = report.ToYAML()
	default:
		out = []byte(report.ToSimpleText())
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = w.Write(out)
	return err
}
