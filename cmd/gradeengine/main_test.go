package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const etude = `{"title": "Etude", "parts": [{"name": "Violin", "measures": [
	{"number": 1, "notes": [{"type": "quarter", "pitches": ["G4"]}, {"offset": 1, "type": "quarter", "pitches": ["A4"]},
		{"offset": 2, "type": "half", "pitches": ["B4"]}]}]}]}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grader.yaml")
	doc := "log:\n  level: error\nengine:\n  evaluators:\n    - name: rhythm\n    - name: range\n    - name: meter\n"
	doc += strings.Join(extra, "")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestAnalyzeCommand(t *testing.T) {
	score := filepath.Join(t.TempDir(), "etude.json")
	require.NoError(t, os.WriteFile(score, []byte(etude), 0o600))
	cfg := writeConfig(t)

	tests := []struct {
		name         string
		args         []string
		wantObserved bool
	}{
		{name: "with observed grades", args: []string{"--grade", "1"}, wantObserved: true},
		{name: "target only", args: []string{"--grade", "2", "--target-only", "--strings-only", "--compact"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"analyze", score, "--config", cfg}, tt.args...)
			out, err := execute(t, args...)
			require.NoError(t, err, out)

			var report struct {
				Dimensions []struct {
					Dimension string          `json:"dimension"`
					Curve     json.RawMessage `json:"curve"`
				} `json:"dimensions"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &report))
			require.Len(t, report.Dimensions, 3)
			for _, d := range report.Dimensions {
				assert.Equal(t, tt.wantObserved, string(d.Curve) != "null", d.Dimension)
			}
		})
	}
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	score := filepath.Join(t.TempDir(), "etude.json")
	require.NoError(t, os.WriteFile(score, []byte(etude), 0o600))
	cfg := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing grade", args: []string{"analyze", score}, wantErr: `required flag(s) "grade" not set`},
		{name: "bad grade", args: []string{"analyze", score, "--grade", "x"}, wantErr: "parse grade"},
		{name: "grade out of range", args: []string{"analyze", score, "--grade", "9"}, wantErr: "outside"},
		{name: "missing file", args: []string{"analyze", score + ".missing", "--grade", "1"}, wantErr: "read score"},
		{name: "bad config", args: []string{"analyze", score, "--grade", "1", "--config", score + ".missing"}, wantErr: "open config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if !strings.Contains(strings.Join(args, " "), "--config") {
				args = append(args, "--config", cfg)
			}
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluatorsCommand(t *testing.T) {
	out, err := execute(t, "evaluators")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 10)
	assert.Contains(t, out, "rhythm")
	assert.Contains(t, out, "(default)")
}

func TestAnalyzeCommand_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	score := filepath.Join(t.TempDir(), "etude.json")
	require.NoError(t, os.WriteFile(score, []byte(etude), 0o600))
	cfg := writeConfig(t, "  tracing: true\n")

	out, err := execute(t, "analyze", score, "--config", cfg, "--grade", "1", "--target-only")
	require.NoError(t, err, out)

	traced := map[string]bool{}
	for _, span := range recorder.Ended() {
		for _, kv := range span.Attributes() {
			if kv.Key == "evaluator.name" {
				traced[kv.Value.AsString()] = true
			}
		}
	}
	assert.Equal(t, map[string]bool{"rhythm": true, "range": true, "meter": true}, traced)
}
