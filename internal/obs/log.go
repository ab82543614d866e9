package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the process.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Logr returns a logr.Logger whose JSON records are written through
// Logger, so component logs and request logs share one stream.
func Logr(name string) logr.Logger {
	l := funcr.NewJSON(func(obj string) {
		Logger().Println(obj)
	}, funcr.Options{
		LogTimestamp:    true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		Verbosity:       verbosity(),
	})
	if name != "" {
		l = l.WithName(name)
	}
	return l
}

func verbosity() int {
	switch os.Getenv("CG_LOG_VERBOSITY") {
	case "1":
		return 1
	case "2":
		return 2
	default:
		return 0
	}
}
