// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/vulngraph/internal/config"
	"github.com/xkilldash9x/vulngraph/internal/knowledgegraph"
	"github.com/xkilldash9x/vulngraph/internal/mocks"
	"github.com/xkilldash9x/vulngraph/internal/observability"
	"github.com/xkilldash9x/vulngraph/internal/store"
)

// resetForTest silences the global logger and restores openServices.
func resetForTest(t *testing.T) {
	t.Helper()

	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"}, zapcore.AddSync(io.Discard))

	original := openServices
	t.Cleanup(func() {
		openServices = original
		observability.ResetForTest()
	})

	// Keep a developer's ~/.vulngraph or ./config.yaml out of the tests.
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

// executeCommand runs a fresh root command and returns its combined output.
func executeCommand(t *testing.T, args ...string) (string, *config.Interface, error) {
	t.Helper()
	root, cfgPtr := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), cfgPtr, err
}

// createTempFile writes content into a file under a test temp dir.
func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// fakeServiceCall records how openServices was invoked.
type fakeServiceCall struct {
	withArchive bool
	cfg         config.Interface
}

// installFakeServices swaps openServices for one backed by a shared
// in-memory graph, so state persists across commands within one test.
func installFakeServices(t *testing.T, archive findingsArchive) (*knowledgegraph.InMemoryGraph, *[]fakeServiceCall) {
	t.Helper()

	graph := knowledgegraph.NewInMemoryGraph(nil)
	var calls []fakeServiceCall
	openServices = func(ctx context.Context, cfg config.Interface, logger *zap.Logger, withArchive bool) (*services, error) {
		calls = append(calls, fakeServiceCall{withArchive: withArchive, cfg: cfg})
		s := &services{cfg: cfg, logger: zap.NewNop(), connector: graph}
		if withArchive && archive != nil {
			s.archive = archive
		}
		return s, nil
	}
	return graph, &calls
}

// hasRun reports whether graph's ledger holds fingerprint.
func hasRun(t *testing.T, graph *knowledgegraph.InMemoryGraph, fingerprint string) bool {
	t.Helper()
	_, found, err := knowledgegraph.NewRepository(graph, nil).FindIngestionRun(context.Background(), fingerprint)
	require.NoError(t, err)
	return found
}

// fakeArchive is an in-memory findingsArchive.
type fakeArchive struct {
	mocks.MockFindingsArchive
	batches []store.BatchSummary
}

func (f *fakeArchive) ListBatches(context.Context, int) ([]store.BatchSummary, error) {
	return f.batches, nil
}

const sampleFindingsJSON = `{"findings": [
  {
    "finding_id": "FG-1", "scanner": "trivy", "scan_id": "scan-1",
    "timestamp": "2025-10-26T10:00:00Z",
    "vulnerability": {"title": "OpenSSL overflow", "severity": "HIGH", "cve_id": "CVE-2024-0001"},
    "asset": {"type": "container_image", "image": "api:1.0"}
  },
  {
    "finding_id": "FG-2", "scanner": "trivy", "scan_id": "scan-1",
    "timestamp": "2025-10-26T10:05:00Z",
    "vulnerability": {"title": "OpenSSL overflow", "severity": "HIGH", "cve_id": "CVE-2024-0001"},
    "asset": {"type": "container_image", "image": "worker:1.0"}
  }
]}`
