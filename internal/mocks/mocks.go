// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Graph() config.GraphConfig {
	return m.Called().Get(0).(config.GraphConfig)
}

func (m *MockConfig) LLM() config.LLMConfig {
	return m.Called().Get(0).(config.LLMConfig)
}

func (m *MockConfig) Enrichment() config.EnrichmentConfig {
	return m.Called().Get(0).(config.EnrichmentConfig)
}

func (m *MockConfig) Ingest() config.IngestConfig {
	return m.Called().Get(0).(config.IngestConfig)
}

func (m *MockConfig) Redis() config.RedisConfig {
	return m.Called().Get(0).(config.RedisConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Analysis() config.AnalysisConfig {
	return m.Called().Get(0).(config.AnalysisConfig)
}

func (m *MockConfig) SetIngestFingerprinting(b bool) { m.Called(b) }
func (m *MockConfig) SetIngestFilter(expr string)    { m.Called(expr) }
func (m *MockConfig) SetEnrichmentLLMEnabled(b bool) { m.Called(b) }

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close mocks resource cleanup.
func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Graph Store Mocks --

// MockGraphSession mocks the schemas.GraphSession interface.
type MockGraphSession struct {
	mock.Mock
}

func (m *MockGraphSession) Write(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	args := m.Called(ctx, query, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]map[string]any), args.Error(1)
}

func (m *MockGraphSession) Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	args := m.Called(ctx, query, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]map[string]any), args.Error(1)
}

func (m *MockGraphSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockGraphConnector mocks the schemas.GraphConnector interface.
type MockGraphConnector struct {
	mock.Mock
}

func (m *MockGraphConnector) Session(ctx context.Context) (schemas.GraphSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.GraphSession), args.Error(1)
}

func (m *MockGraphConnector) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Findings Archive Mock --

// MockFindingsArchive mocks the schemas.FindingsArchive interface.
type MockFindingsArchive struct {
	mock.Mock
}

func (m *MockFindingsArchive) ArchiveBatch(ctx context.Context, fingerprint string, findings []schemas.Finding) error {
	return m.Called(ctx, fingerprint, findings).Error(0)
}

func (m *MockFindingsArchive) GetBatch(ctx context.Context, fingerprint string) ([]schemas.Finding, error) {
	args := m.Called(ctx, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Finding), args.Error(1)
}
