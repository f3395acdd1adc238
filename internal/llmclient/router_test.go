package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/mocks"
)

// -- Test Cases: Initialization --

func TestNewLLMRouter_Success(t *testing.T) {
	logger, _ := setupTestLogger(t)
	fast := new(mocks.MockLLMClient)
	powerful := new(mocks.MockLLMClient)

	router, err := NewLLMRouter(logger, fast, powerful)

	require.NoError(t, err)
	require.NotNil(t, router)
	assert.Same(t, fast, router.clients[schemas.TierFast])
	assert.Same(t, powerful, router.clients[schemas.TierPowerful])
}

func TestNewLLMRouter_MissingClients(t *testing.T) {
	logger, _ := setupTestLogger(t)
	client := new(mocks.MockLLMClient)

	_, err := NewLLMRouter(logger, nil, client)
	assert.ErrorContains(t, err, "both fast and powerful tier clients must be provided")

	_, err = NewLLMRouter(logger, client, nil)
	assert.ErrorContains(t, err, "both fast and powerful tier clients must be provided")
}

// -- Test Cases: Routing --

func TestLLMRouter_Generate_Routing(t *testing.T) {
	tests := []struct {
		name     string
		tier     schemas.ModelTier
		wantFast bool
	}{
		{"Fast Tier", schemas.TierFast, true},
		{"Powerful Tier", schemas.TierPowerful, false},
		{"Default Tier", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := setupTestLogger(t)
			fast := new(mocks.MockLLMClient)
			powerful := new(mocks.MockLLMClient)
			router, err := NewLLMRouter(logger, fast, powerful)
			require.NoError(t, err)

			req := createTestRequest()
			req.Tier = tt.tier
			target, other := powerful, fast
			if tt.wantFast {
				target, other = fast, powerful
			}
			target.On("Generate", mock.Anything, req).Return("routed", nil).Once()

			out, err := router.Generate(context.Background(), req)

			require.NoError(t, err)
			assert.Equal(t, "routed", out)
			target.AssertExpectations(t)
			other.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			assert.Equal(t, 1, logs.FilterMessage("Routing LLM request").Len())
		})
	}
}

func TestLLMRouter_Generate_UnknownTier(t *testing.T) {
	router, err := NewLLMRouter(nil, new(mocks.MockLLMClient), new(mocks.MockLLMClient))
	require.NoError(t, err)

	req := createTestRequest()
	req.Tier = "medium"
	_, err = router.Generate(context.Background(), req)

	assert.EqualError(t, err, "no LLM client configured for tier: medium")
}

func TestLLMRouter_Generate_PropagatesErrors(t *testing.T) {
	powerful := new(mocks.MockLLMClient)
	router, err := NewLLMRouter(nil, new(mocks.MockLLMClient), powerful)
	require.NoError(t, err)

	boom := errors.New("upstream down")
	powerful.On("Generate", mock.Anything, mock.Anything).Return("", boom)

	_, err = router.Generate(context.Background(), createTestRequest())
	assert.ErrorIs(t, err, boom)
}

// -- Test Cases: Close --

func TestLLMRouter_Close_ClosesSharedClientOnce(t *testing.T) {
	shared := new(mocks.MockLLMClient)
	shared.On("Close").Return(nil).Once()

	router, err := NewLLMRouter(nil, shared, shared)
	require.NoError(t, err)

	assert.NoError(t, router.Close())
	shared.AssertNumberOfCalls(t, "Close", 1)
}

func TestLLMRouter_Close_JoinsErrors(t *testing.T) {
	fast := new(mocks.MockLLMClient)
	powerful := new(mocks.MockLLMClient)
	fastErr := errors.New("fast close failed")
	fast.On("Close").Return(fastErr)
	powerful.On("Close").Return(nil)

	router, err := NewLLMRouter(nil, fast, powerful)
	require.NoError(t, err)

	err = router.Close()
	assert.ErrorIs(t, err, fastErr)
	assert.Contains(t, err.Error(), "closing fast tier client")
	powerful.AssertCalled(t, "Close")
}
