package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/relayhub/relayhub/common"
)

const (
	loggerDebug = "DEBUG"
	loggerInfo  = "INFO"
	loggerWarn  = "WARN"
	loggerError = "ERR"
)

var logWriter io.Writer = os.Stderr
var logLock sync.Mutex

func LogDebug(ctx context.Context, args ...any) {
	if common.DebugEnabled {
		logHelper(ctx, loggerDebug, fmt.Sprint(args...))
	}
}

func LogInfo(ctx context.Context, args ...any) {
	logHelper(ctx, loggerInfo, fmt.Sprint(args...))
}

func LogWarn(ctx context.Context, args ...any) {
	logHelper(ctx, loggerWarn, fmt.Sprint(args...))
}

func LogError(ctx context.Context, args ...any) {
	logHelper(ctx, loggerError, fmt.Sprint(args...))
}

func logHelper(ctx context.Context, level string, msg string) {
	id, _ := ctx.Value(common.RequestIdKey).(string)
	now := time.Now()
	logLock.Lock()
	defer logLock.Unlock()
	if id == "" {
		_, _ = fmt.Fprintf(logWriter, "[%s] %v | %s \n", level, now.Format("2006/01/02 - 15:04:05"), msg)
		return
	}
	_, _ = fmt.Fprintf(logWriter, "[%s] %v | %s | %s \n", level, now.Format("2006/01/02 - 15:04:05"), id, msg)
}
