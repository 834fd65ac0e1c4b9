package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

var allowedLevels = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var allowedStatus = map[string]string{
	"ok":      "ok",
	"fail":    "fail",
	"skip":    "skip",
	"retry":   "retry",
	"ignored": "ignored",
}

// allowedOutcome lists what the subscription machine can do with one event.
var allowedOutcome = map[string]string{
	"offered":  "offered",
	"reserved": "reserved",
	"declined": "declined",
	"relayed":  "relayed",
	"ignored":  "ignored",
	"failed":   "failed",
	"fail":     "failed",
	"ping":     "ping",
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := allowedLevels[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func normalizeStatus(status string) (string, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return "", false
	}
	if mapped, ok := allowedStatus[status]; ok {
		return mapped, true
	}
	return status, false
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome == "" {
		return "", false
	}
	val, ok := allowedOutcome[outcome]
	return val, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"ts_unix_nano",
	"event_id",
	"user_id",
	"transaction_id",
	"order_id",
	"handler",
	"event_type",
	"from",
	"to",
	"outcome",
	"duration_ms",
	"method",
	"route",
	"path",
	"code",
	"reason",
	"http_code",
	"return_code",
	"messages",
	"action",
	"endpoint",
	"mode",
	"listen",
	"store",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"attempt",
	"attempts",
	"elapsed_ms",
	"count",
}
