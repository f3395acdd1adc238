// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "vulngraph", cfg.Logger().ServiceName)
	assert.Equal(t, "neo4j://localhost:7687", cfg.Graph().URI)
	assert.Equal(t, 10*time.Second, cfg.Graph().ConnectTimeout)
	assert.Equal(t, ProviderOpenAI, cfg.LLM().Provider)
	assert.Equal(t, 0.1, cfg.LLM().Temperature)
	assert.True(t, cfg.Enrichment().HeuristicsEnabled)
	assert.Equal(t, 50, cfg.Enrichment().MaxPairwiseGroup)
	assert.True(t, cfg.Ingest().Fingerprinting)
	assert.Equal(t, LockBackendLocal, cfg.Ingest().LockBackend)
	assert.Equal(t, 15*time.Minute, cfg.Ingest().LockTTL)
	assert.GreaterOrEqual(t, cfg.Ingest().LockTTL, cfg.Ingest().Timeout, "the lock outlives a run")
	assert.Equal(t, 5, cfg.Analysis().TopN)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		noURI := *cfg
		noURI.GraphCfg.URI = " "
		err := noURI.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "graph.uri is a required configuration field")

		badPool := *cfg
		badPool.GraphCfg.MaxPoolSize = 0
		err = badPool.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "graph.max_pool_size must be a positive integer")

		negativeCap := *cfg
		negativeCap.EnrichmentCfg.MaxPairwiseGroup = -1
		err = negativeCap.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "enrichment.max_pairwise_group must not be negative")

		redisNoAddr := *cfg
		redisNoAddr.IngestCfg.LockBackend = LockBackendRedis
		redisNoAddr.RedisCfg.Addr = ""
		err = redisNoAddr.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis.addr is required")
	})

	t.Run("LLM Validation", func(t *testing.T) {
		valid := LLMConfig{Provider: ProviderOpenAI, Temperature: 0.2, MaxRetries: 3}
		assert.NoError(t, valid.Validate())

		unknown := valid
		unknown.Provider = "anthropic"
		err := unknown.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider 'anthropic'")

		hot := valid
		hot.Temperature = 2.5
		err = hot.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "temperature must be between 0.0 and 2.0")
	})

	t.Run("Ingest Validation", func(t *testing.T) {
		valid := IngestConfig{LockBackend: LockBackendRedis, LockTTL: time.Minute}
		assert.NoError(t, valid.Validate())

		noTTL := valid
		noTTL.LockTTL = 0
		err := noTTL.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "lock_ttl must be a positive duration")

		short := valid
		short.Timeout = 10 * time.Minute
		err = short.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must not be shorter than timeout")

		localShort := short
		localShort.LockBackend = LockBackendLocal
		assert.NoError(t, localShort.Validate(), "the local lock has no TTL")

		unknown := valid
		unknown.LockBackend = "etcd"
		err = unknown.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "lock_backend must be one of")
	})
}

func TestLLMConfigConfigured(t *testing.T) {
	testCases := []struct {
		name string
		cfg  LLMConfig
		want bool
	}{
		{"openai complete", LLMConfig{Provider: ProviderOpenAI, BaseURL: "https://api.example/v1", APIKey: "k"}, true},
		{"openai missing base url", LLMConfig{Provider: ProviderOpenAI, APIKey: "k"}, false},
		{"openai missing key", LLMConfig{Provider: ProviderOpenAI, BaseURL: "https://api.example/v1"}, false},
		{"gemini with key", LLMConfig{Provider: ProviderGemini, APIKey: "k"}, true},
		{"unknown provider", LLMConfig{Provider: "other", APIKey: "k", BaseURL: "x"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.Configured())
		})
	}
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
graph:
  uri: "bolt://graph.internal:7687"
  database: "findings"
enrichment:
  max_pairwise_group: 10
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "bolt://graph.internal:7687", cfg.Graph().URI)
		assert.Equal(t, "findings", cfg.Graph().Database)
		assert.Equal(t, 10, cfg.Enrichment().MaxPairwiseGroup)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("analysis.top_n", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "analysis.top_n must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		t.Setenv("VULNGRAPH_GRAPH_PASSWORD", "graph-secret")
		t.Setenv("VULNGRAPH_LLM_API_KEY", "sk-test")
		t.Setenv("VULNGRAPH_DATABASE_URL", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "graph-secret", cfg.Graph().Password)
		assert.Equal(t, "sk-test", cfg.LLM().APIKey)
		assert.Equal(t, "postgres://envvar/db", cfg.Database().URL)
	})
}

func TestSecretsAreOmittedFromYAML(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.GraphCfg.Password = "graph-secret"
	cfg.LLMCfg.APIKey = "sk-test"
	cfg.DatabaseCfg.URL = "postgres://user:pw@db/archive"

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "graph-secret")
	assert.NotContains(t, string(out), "sk-test")
	assert.NotContains(t, string(out), "user:pw")
	assert.Contains(t, string(out), "neo4j://localhost:7687")
}

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()
	cfg.SetIngestFingerprinting(false)
	cfg.SetIngestFilter(`finding.scanner == "trivy"`)
	cfg.SetEnrichmentLLMEnabled(false)

	assert.False(t, cfg.Ingest().Fingerprinting)
	assert.Equal(t, `finding.scanner == "trivy"`, cfg.Ingest().Filter)
	assert.False(t, cfg.Enrichment().LLMEnabled)
}
