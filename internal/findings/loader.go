// Package findings loads scanner findings from disk and narrows batches with
// filter expressions before ingestion.
package findings

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/vulngraph/api/schemas"
)

// maxParallelLoads bounds concurrent file reads in LoadFiles.
const maxParallelLoads = 8

// DecodeError reports input that is not a findings document.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode findings from %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	Findings *[]schemas.Finding `json:"findings"`
}

// Decode reads a findings document: either a JSON array of findings or an
// object with a "findings" array.
func Decode(r io.Reader, source string) ([]schemas.Finding, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("document is empty")}
	}

	api := json.ConfigCompatibleWithStandardLibrary
	switch data[0] {
	case '[':
		var out []schemas.Finding
		if err := api.Unmarshal(data, &out); err != nil {
			return nil, &DecodeError{Source: source, Err: err}
		}
		return out, nil
	case '{':
		var env envelope
		if err := api.Unmarshal(data, &env); err != nil {
			return nil, &DecodeError{Source: source, Err: err}
		}
		if env.Findings == nil {
			return nil, &DecodeError{Source: source, Err: fmt.Errorf("object has no findings field")}
		}
		return *env.Findings, nil
	default:
		return nil, &DecodeError{Source: source, Err: fmt.Errorf("expected a JSON array or an object with a findings field")}
	}
}

// LoadFile decodes one findings file. A leading ~ is expanded; "-" reads
// standard input.
func LoadFile(path string) ([]schemas.Finding, error) {
	if path == "-" {
		return Decode(os.Stdin, "stdin")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path %s: %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings file: %w", err)
	}
	defer f.Close()
	return Decode(f, expanded)
}

// LoadFiles reads files concurrently and concatenates their findings in the
// order the paths were given.
func LoadFiles(ctx context.Context, paths []string) ([]schemas.Finding, error) {
	parts := make([][]schemas.Finding, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := LoadFile(p)
			if err != nil {
				return err
			}
			parts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []schemas.Finding
	for _, part := range parts {
		all = append(all, part...)
	}
	return all, nil
}
