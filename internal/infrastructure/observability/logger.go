package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Component names tag every line a subsystem writes.
const (
	ComponentPaymentService = "payment_service"
	ComponentRegistry       = "provider_registry"
	ComponentReconciler     = "reconciler"
	ComponentOutboxRelay    = "outbox_relay"
	ComponentWebhooks       = "webhooks"
	ComponentStripe         = "stripe"
)

// InitLogger builds the process logger. Unknown levels fall back to info.
func InitLogger(level string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}
	return zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ComponentLogger derives a logger for one subsystem from the process logger.
func ComponentLogger(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "warning":
		return zerolog.WarnLevel
	case "", "disabled", "panic", "trace":
		// Silencing or flooding the payment log is never what a config typo meant.
		return zerolog.InfoLevel
	default:
		parsed, err := zerolog.ParseLevel(l)
		if err != nil {
			return zerolog.InfoLevel
		}
		return parsed
	}
}
