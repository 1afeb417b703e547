// Package server exposes the intake API over HTTP.
package server

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/anchord/internal/model"
)

// Engine is the pipeline surface the server depends on.
type Engine interface {
	Submit(ctx context.Context, ev *model.Event) (*model.Receipt, error)
	Receipt(decisionID string) (*model.Receipt, error)
	Pending(pipeline string, limit int) ([]*model.Receipt, error)
	Cancel(ctx context.Context, decisionID string) (*model.Receipt, error)
	Reconcile(pipeline string) (int, error)
	QueueDepths() map[string]int
}

// Server handles intake API requests.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// New returns a Server backed by the given engine.
func New(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}
