package repository

import (
	"context"

	"github.com/aigoflow/helix/internal/models"
)

// Repository aggregates all repository interfaces
type Repository interface {
	Invocation() InvocationRepositoryInterface
	Event() EventRepositoryInterface
}

// InvocationRepositoryInterface defines chunk invocation logging operations
type InvocationRepositoryInterface interface {
	LogInvocation(ctx context.Context, inv *models.InvocationLog) error
	GetInvocationLogs(ctx context.Context, limit int) ([]*models.InvocationLog, error)
}

// EventRepositoryInterface defines event logging operations
type EventRepositoryInterface interface {
	LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error
}
