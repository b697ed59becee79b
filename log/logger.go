package log

import (
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var defaultLoggerCacheExpiry = 6 * time.Hour

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// Permanently add context to the logger. Any future logging for this task
// token will include this context.
func AddContext(taskID string, keyvals ...interface{}) {
	loggerCache.Set(taskID, kitlog.With(getLogger(taskID), keyvals...), defaultLoggerCacheExpiry)
}

func Log(taskID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(taskID), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// Log in situations where no task is in flight. Should be used sparingly
// and with as much context inserted into the message as possible.
func LogNoTaskID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

func LogError(taskID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(taskID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", RedactURL(err.Error()))
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

// Clear drops the cached logger context once a task is finished so tokens
// from completed jobs don't pin memory for the full expiry window.
func Clear(taskID string) {
	loggerCache.Delete(taskID)
}

func getLogger(taskID string) kitlog.Logger {
	logger, found := loggerCache.Get(taskID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "task_id", taskID)
	err := loggerCache.Add(taskID, newLogger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "task_id", taskID)
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}
