package webapi

import (
	"context"

	"github.com/kitewise/credits/pkg/credits"
	"go.uber.org/zap"
)

// OperationLogger forwards credit service operation callbacks to zap.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wires an OperationLogger.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	return &OperationLogger{logger: logger.Named("credits")}
}

// LogOperation implements credits.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(ctx context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("status", entry.Status),
	}
	if entry.SessionID.String() != "" {
		fields = append(fields, zap.String("session_id", entry.SessionID.String()))
	}
	if entry.Credits > 0 {
		fields = append(fields, zap.Int64("credits", entry.Credits.Int64()))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("credit operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("credit operation", fields...)
}
