package service

import (
	"context"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockContextQuerier mocks the ContextQuerier interface
type MockContextQuerier struct {
	mock.Mock
}

func (m *MockContextQuerier) Query(ctx context.Context, text string, sc domain.SearchContext) *domain.ContextResult {
	args := m.Called(ctx, text, sc)
	if args.Get(0) == nil {
		return &domain.ContextResult{}
	}
	return args.Get(0).(*domain.ContextResult)
}
