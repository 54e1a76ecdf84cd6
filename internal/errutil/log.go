// Package errutil logs wrapped errors with their structured context.
package errutil

import (
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// LogError logs err at error level. For oops errors the code and context are
// emitted as separate fields.
func LogError(logger *zap.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		fields := []zap.Field{zap.String("error", oopsErr.Error())}
		if code := oopsErr.Code(); code != nil && code != "" {
			fields = append(fields, zap.Any("code", code))
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			fields = append(fields, zap.Any("context", ctx))
		}
		logger.Error(msg, fields...)
		return
	}
	logger.Error(msg, zap.Error(err))
}
