package temporal

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger routes Temporal SDK logs through the process logger
type zapLogger struct {
	logger *zap.Logger
}

// NewZapLoggerAdapter wraps a zap logger as a Temporal log.Logger.
// The returned logger also implements log.WithLogger.
func NewZapLoggerAdapter(logger *zap.Logger) log.Logger {
	return &zapLogger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

var (
	_ log.Logger     = (*zapLogger)(nil)
	_ log.WithLogger = (*zapLogger)(nil)
)

func (z *zapLogger) Debug(msg string, keyvals ...interface{}) {
	z.logger.Debug(msg, keyvalsToFields(keyvals)...)
}

func (z *zapLogger) Info(msg string, keyvals ...interface{}) {
	z.logger.Info(msg, keyvalsToFields(keyvals)...)
}

func (z *zapLogger) Warn(msg string, keyvals ...interface{}) {
	z.logger.Warn(msg, keyvalsToFields(keyvals)...)
}

func (z *zapLogger) Error(msg string, keyvals ...interface{}) {
	z.logger.Error(msg, keyvalsToFields(keyvals)...)
}

// With returns a child logger carrying the given key/value pairs
func (z *zapLogger) With(keyvals ...interface{}) log.Logger {
	return &zapLogger{logger: z.logger.With(keyvalsToFields(keyvals)...)}
}

// keyvalsToFields turns Temporal's flat key1, val1, key2, val2 list into zap
// fields. Non-string keys are stringified and a dangling value is kept under
// the "extra" key.
func keyvalsToFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			fields = append(fields, zap.Any("extra", keyvals[i]))
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}
