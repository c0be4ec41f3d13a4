package backend

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/Paintersrp/minicars/internal/process"
)

const redactedPlaceholder = "[redacted]"

var (
	levelTokenPattern = regexp.MustCompile(`(?i)\b(critical|error|warning|warn|info|debug)\b`)
	secretKeyPattern  = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:PASSWORD|SECRET|TOKEN|API_KEY|ACCESS_KEY))\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

// outputLevel picks the level a backend output line is logged at. Uvicorn
// writes its INFO records to stderr, so the stream alone is not enough.
func outputLevel(line process.Line) zapcore.Level {
	if matches := levelTokenPattern.FindStringSubmatch(line.Message); len(matches) == 2 {
		switch strings.ToLower(matches[1]) {
		case "critical", "error":
			return zapcore.ErrorLevel
		case "warning", "warn":
			return zapcore.WarnLevel
		case "info":
			return zapcore.InfoLevel
		case "debug":
			return zapcore.DebugLevel
		}
	}
	if line.Source == process.LogSourceStderr {
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// redactSecrets masks values assigned to secret-looking keys, for example
// OPENAI_API_KEY=sk-123 becomes OPENAI_API_KEY=[redacted].
func redactSecrets(message string) string {
	if message == "" {
		return message
	}
	return secretKeyPattern.ReplaceAllString(message, "$1$2$3"+redactedPlaceholder+"$5")
}
