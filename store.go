package maestro

import "context"

// Store abstracts durable persistence for instances and their history.
type Store interface {
	// --- Instances ---
	CreateInstance(ctx context.Context, inst WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (WorkflowInstance, error)
	UpdateInstance(ctx context.Context, inst WorkflowInstance) error
	DeleteInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context, workflow string, limit int) ([]WorkflowInstance, error)

	// --- History ---
	// GetHistory returns the most recent entries first. limit <= 0 means all.
	GetHistory(ctx context.Context, instanceID string, limit int) ([]HistoryEntry, error)

	// CommitTransition appends a history entry and updates the instance in
	// one transaction. Either both land or neither does.
	CommitTransition(ctx context.Context, entry HistoryEntry, inst WorkflowInstance) error

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
