package logx

import (
	"fmt"

	"github.com/rs/zerolog"
)

// CronLogger adapts a zerolog.Logger to cron.Logger.
type CronLogger struct {
	Logger zerolog.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...any) {
	l.Logger.Debug().Fields(pairs(keysAndValues)).Msg(msg)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.Logger.Error().Err(err).Fields(pairs(keysAndValues)).Msg(msg)
}

func pairs(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
