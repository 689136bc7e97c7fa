package worker

import (
	"os"
	"strings"

	"omnichat/internal/observability"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("OMNICHAT_WORKER_DEBUG"), "1")

func debugLog(msg string, args ...any) {
	if workerDebugEnabled {
		observability.Logger().Debug(msg, args...)
	}
}
