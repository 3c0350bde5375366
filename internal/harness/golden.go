package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/gowebpki/jcs"
	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden form of a run.
type TraceSnapshot struct {
	Scenario string    `json:"scenario"`
	Trace    []Outcome `json:"trace"`
}

// MarshalSnapshot renders a snapshot as RFC 8785 canonical JSON, indented
// for review, with a trailing newline.
func MarshalSnapshot(s TraceSnapshot) ([]byte, error) {
	if s.Trace == nil {
		s.Trace = []Outcome{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, canonical, "", "  "); err != nil {
		return nil, fmt.Errorf("indent snapshot: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// RunWithGolden runs scenario in a temp dir, fails the test on any step or
// assertion failure, and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario, t.TempDir())
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	data, err := MarshalSnapshot(TraceSnapshot{Scenario: scenario.Name, Trace: result.Trace})
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}
