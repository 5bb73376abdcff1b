package hostfunc

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogBridge forwards records of the guest's logging module to zap.
type LogBridge struct {
	log *zap.Logger
}

func NewLogBridge(log *zap.Logger) *LogBridge {
	if log == nil {
		log = Logger()
	}
	return &LogBridge{log: log.Named("python")}
}

// Level maps a Python logging level name to a zap level. CRITICAL is logged
// at Error and flagged, never at Fatal, so a guest cannot stop the host.
func Level(name string) (zapcore.Level, bool) {
	switch strings.ToUpper(name) {
	case "CRITICAL", "FATAL":
		return zapcore.ErrorLevel, true
	case "ERROR":
		return zapcore.ErrorLevel, false
	case "WARNING", "WARN":
		return zapcore.WarnLevel, false
	case "INFO":
		return zapcore.InfoLevel, false
	}
	return zapcore.DebugLevel, false
}

// Emit writes one record. source names the emitting Python logger.
func (b *LogBridge) Emit(level, source, msg string) {
	lvl, critical := Level(level)
	ce := b.log.Check(lvl, msg)
	if ce == nil {
		return
	}
	fields := []zap.Field{zap.String("logger", source)}
	if critical {
		fields = append(fields, zap.Bool("critical", true))
	}
	ce.Write(fields...)
}
