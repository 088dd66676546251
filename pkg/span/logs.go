// LogObserver derives log records from errored and slow entry spans.
// Emits ERROR-severity logs for errored spans and WARN-severity logs for slow spans.
package span

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/log"
)

// LogObserver emits log records for notable invocations.
type LogObserver struct {
	logger        log.Logger
	slowThreshold time.Duration
}

// NewLogObserver creates a LogObserver that emits logs via the given LoggerProvider.
// A slowThreshold of 0 disables slow invocation detection.
func NewLogObserver(lp log.LoggerProvider, slowThreshold time.Duration) *LogObserver {
	return &LogObserver{
		logger:        lp.Logger(InstrumentationName),
		slowThreshold: slowThreshold,
	}
}

// Observe emits log records for errored spans and spans exceeding the slow threshold.
func (l *LogObserver) Observe(info Info) {
	attrs := []log.KeyValue{
		log.String("http.route", info.Operation),
		log.String("network.peer.address", info.Peer),
	}
	if info.Method != "" {
		attrs = append(attrs, log.String("http.request.method", info.Method))
	}
	if info.StatusCode != 0 {
		attrs = append(attrs, log.Int("http.response.status_code", info.StatusCode))
	}

	if info.Errored {
		var rec log.Record
		rec.SetTimestamp(info.Timestamp.Add(info.Duration))
		rec.SetSeverity(log.SeverityError)
		rec.SetSeverityText("ERROR")
		rec.SetBody(log.StringValue(fmt.Sprintf("invocation failed: %s %s (status %d)", info.Method, info.Operation, info.StatusCode)))
		rec.AddAttributes(attrs...)
		l.logger.Emit(context.Background(), rec)
	}

	if l.slowThreshold > 0 && info.Duration > l.slowThreshold {
		var rec log.Record
		rec.SetTimestamp(info.Timestamp.Add(info.Duration))
		rec.SetSeverity(log.SeverityWarn)
		rec.SetSeverityText("WARN")
		rec.SetBody(log.StringValue(fmt.Sprintf(
			"slow invocation %s %s: %s (threshold %s)",
			info.Method, info.Operation, info.Duration, l.slowThreshold,
		)))
		rec.AddAttributes(attrs...)
		l.logger.Emit(context.Background(), rec)
	}
}
