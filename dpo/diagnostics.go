package dpo

import "k8s.io/klog/v2"

// DiagnosticLevel classifies a diagnostic event.
type DiagnosticLevel int

const (
	DiagnosticInfo DiagnosticLevel = iota
	DiagnosticWarning
)

// Diagnostic codes emitted by the encoder. They identify the anomaly class so
// sinks can aggregate or assert without parsing messages.
const (
	DiagEmptyField       = "empty_field"
	DiagMissingDelimiter = "missing_delimiter"
	DiagBOSFallback      = "bos_fallback"
	DiagPromptDivergence = "prompt_divergence"
	DiagDelimiterShift   = "delimiter_shift"
)

// Diagnostic is a structured, non-fatal anomaly report. Diagnostics never
// block processing; discard conditions additionally show up in Stats.
type Diagnostic struct {
	Level   DiagnosticLevel
	Code    string
	Message string
}

// DiagnosticSink receives encoder diagnostics. Sinks must be safe for
// concurrent use when encoders run in parallel workers.
type DiagnosticSink func(Diagnostic)

// klogSink is the default sink, forwarding diagnostics to klog.
func klogSink(d Diagnostic) {
	switch d.Level {
	case DiagnosticWarning:
		klog.Warningf("dpo: %s: %s", d.Code, d.Message)
	default:
		klog.V(1).Infof("dpo: %s: %s", d.Code, d.Message)
	}
}
