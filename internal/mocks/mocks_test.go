package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/config"
	"github.com/xkilldash9x/vulngraph/internal/mocks"
)

// Compile-time checks that the mocks satisfy the interfaces they stand in for.
var (
	_ config.Interface        = (*mocks.MockConfig)(nil)
	_ schemas.LLMClient       = (*mocks.MockLLMClient)(nil)
	_ schemas.GraphSession    = (*mocks.MockGraphSession)(nil)
	_ schemas.GraphConnector  = (*mocks.MockGraphConnector)(nil)
	_ schemas.FindingsArchive = (*mocks.MockFindingsArchive)(nil)
)

func TestMockLLMClientHonorsCancelledContext(t *testing.T) {
	m := new(mocks.MockLLMClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, schemas.GenerationRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	m.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestMockGraphConnectorNilSession(t *testing.T) {
	m := new(mocks.MockGraphConnector)
	m.On("Session", mock.Anything).Return(nil, errors.New("unavailable"))

	s, err := m.Session(context.Background())
	assert.Nil(t, s)
	assert.EqualError(t, err, "unavailable")
	m.AssertExpectations(t)
}
