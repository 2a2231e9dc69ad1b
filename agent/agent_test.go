package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeStandalone, false},
		{"standalone", ModeStandalone, false},
		{"team", ModeTeam, false},
		{"swarm", "", true},
		{"Standalone", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced json block", "prose\n```json\n{\"a\": 1}\n```\nmore", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"naked object", `before {"a": 1} after`, `{"a": 1}`},
		{"trailing comma stripped", `{"a": 1,}`, `{"a": 1}`},
		{"no object", "just prose", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"session line", "Working...\nSession: abc-123\ndone", "abc-123"},
		{"session id line", "session_id: xyz", "xyz"},
		{"json envelope", `{"session_id": "deadbeef", "ok": true}`, "deadbeef"},
		{"absent", "no session markers here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSessionID(tt.in))
		})
	}
}

func TestExtractReviewJSON(t *testing.T) {
	t.Run("review object", func(t *testing.T) {
		raw := extractReviewJSON(`result:` + "\n" + `{"verdict": "APPROVE", "score": 9}`)
		require.NotNil(t, raw)
		assert.Contains(t, string(raw), "APPROVE")
	})

	t.Run("object without verdict ignored", func(t *testing.T) {
		assert.Nil(t, extractReviewJSON(`{"status": "done"}`))
	})

	t.Run("no json", func(t *testing.T) {
		assert.Nil(t, extractReviewJSON("all done"))
	})
}

func TestNewCLIRunnerRequiresCommand(t *testing.T) {
	_, err := NewCLIRunner(CLIConfig{}, nil)
	assert.Error(t, err)
}

func TestCLIRunnerSubstitutesPlaceholders(t *testing.T) {
	r, err := NewCLIRunner(CLIConfig{
		Command: []string{"sh", "-c", `echo "Session: sess-1"; echo "agent={agent} mode={mode}"`},
	}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Request{
		Agent:       "builder",
		ProjectPath: t.TempDir(),
		Task:        "do something",
		Mode:        ModeStandalone,
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Contains(t, res.Output, "agent=builder mode=standalone")
}

func TestCLIRunnerGeneratesSessionID(t *testing.T) {
	r, err := NewCLIRunner(CLIConfig{Command: []string{"sh", "-c", "echo ok"}}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Request{Agent: "builder", ProjectPath: t.TempDir()})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
}

func TestCLIRunnerCapturesStructuredReview(t *testing.T) {
	r, err := NewCLIRunner(CLIConfig{
		Command: []string{"sh", "-c", `echo '{"verdict": "REVISE", "score": 4}'`},
	}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Request{Agent: "reviewer", ProjectPath: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, res.StructuredReview)
	assert.Contains(t, string(res.StructuredReview), "REVISE")
}

func TestCLIRunnerCommandFailure(t *testing.T) {
	r, err := NewCLIRunner(CLIConfig{Command: []string{"sh", "-c", "echo broken >&2; exit 3"}}, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), Request{Agent: "builder", ProjectPath: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
