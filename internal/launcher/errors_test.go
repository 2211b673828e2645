package launcher

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localis-app/launcher/internal/config"
	"github.com/localis-app/launcher/internal/git"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindConfiguration, "ConfigurationError"},
		{KindRuntimeNotFound, "RuntimeNotFound"},
		{KindVCSNotFound, "VcsNotFound"},
		{KindCloneFailed, "CloneFailed"},
		{KindUpdateFailed, "UpdateFailed"},
		{KindPortExhausted, "PortExhausted"},
		{KindServerNotReady, "ServerNotReady"},
		{KindLaunchFailed, "LaunchFailed"},
		{Kind(42), "Kind(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestKindOfWrappedError(t *testing.T) {
	inner := &git.SyncError{Kind: git.ErrCloneFailed, Step: "clone", Err: errors.New("exit status 128")}
	err := fmt.Errorf("startup: %w", NewError(KindCloneFailed, "clone repository", inner))

	assert.Equal(t, KindCloneFailed, KindOf(err))
	assert.ErrorIs(t, err, git.ErrCloneFailed)
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := NewError(KindPortExhausted, "find available port", errors.New("ports 8000-8009 in use"))
	assert.Equal(t, "PortExhausted: find available port: ports 8000-8009 in use", err.Error())
	assert.NotEmpty(t, err.Hints)

	assert.Equal(t, "LaunchFailed: start server", (&Error{Kind: KindLaunchFailed, Step: "start server"}).Error())
}

func TestEveryKindHasHints(t *testing.T) {
	for k := KindConfiguration; k <= KindLaunchFailed; k++ {
		assert.NotEmpty(t, defaultHints(k), k.String())
	}
}

func TestRenderDiagnostic(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	RenderDiagnostic(&buf, NewError(KindConfiguration, "resolve configuration", config.ErrMissingRepoURL))
	out := buf.String()

	assert.Contains(t, out, "Localis failed to start")
	assert.Contains(t, out, "ConfigurationError")
	assert.Contains(t, out, "resolve configuration")
	assert.Contains(t, out, config.ErrMissingRepoURL.Error())
	assert.Contains(t, out, "LOCALIS_APP_REPO_URL")
	assert.Contains(t, out, "What to try:")
}

func TestRenderDiagnosticMultilineCause(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	RenderDiagnostic(&buf, NewError(KindCloneFailed, "clone repository",
		errors.New("git clone failed\nfatal: repository not found")))

	require.Contains(t, buf.String(), "Cause: git clone failed")
	assert.Contains(t, buf.String(), "         fatal: repository not found")
}

func TestRenderDiagnosticPlainError(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	RenderDiagnostic(&buf, errors.New("boom"))
	assert.Contains(t, buf.String(), "Step:  launch")
	assert.Contains(t, buf.String(), "Cause: boom")
	assert.NotContains(t, buf.String(), "What to try")
}
