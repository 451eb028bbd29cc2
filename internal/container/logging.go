package container

import "go.uber.org/zap"

// KVLogger is the Info/Error logger interface of the application packages
type KVLogger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// zapLoggerAdapter feeds alternating key/value pairs into zap
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// NewLoggerAdapter is used by entry points that wire services without a Container
func NewLoggerAdapter(logger *zap.Logger) KVLogger {
	return &zapLoggerAdapter{logger: logger}
}

// convertToZapFields pairs keys with values. Non-string keys and a trailing
// key without a value are dropped; errors keep their zap error encoding.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			fields = append(fields, zap.NamedError(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}
	return fields
}
