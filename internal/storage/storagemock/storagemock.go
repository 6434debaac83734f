// Package storagemock contains testify mocks for the storage repositories.
package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ascfm/opcore/internal/model"
)

// MockRepository is a mock implementation of storage.Repository.
type MockRepository struct {
	mock.Mock
}

// RecordOperation mocks storage.Repository.RecordOperation.
func (m *MockRepository) RecordOperation(ctx context.Context, op model.Operation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

// GetOperation mocks storage.Repository.GetOperation.
func (m *MockRepository) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	args := m.Called(ctx, id)
	op, _ := args.Get(0).(*model.Operation)
	return op, args.Error(1)
}

// ListOperations mocks storage.Repository.ListOperations.
func (m *MockRepository) ListOperations(ctx context.Context, panel string) ([]model.Operation, error) {
	args := m.Called(ctx, panel)
	ops, _ := args.Get(0).([]model.Operation)
	return ops, args.Error(1)
}

// PruneOperations mocks storage.Repository.PruneOperations.
func (m *MockRepository) PruneOperations(ctx context.Context, olderThan time.Time) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}
