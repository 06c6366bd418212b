package reconnect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify_Defaults(t *testing.T) {
	p := DefaultPolicy()

	d := p.Classify(CodeLoggedOut)
	require.False(t, d.Retry)
	require.True(t, d.ClearAuth)

	d = p.Classify(CodeReplaced)
	require.False(t, d.Retry)
	require.False(t, d.ClearAuth)

	for _, code := range []int{CodeConnectionClosed, CodeConnectionLost, CodeRestartRequired, 500} {
		require.True(t, p.Classify(code).Retry, "code %d", code)
	}
}

func TestDelay_MonotonicUpToCap(t *testing.T) {
	p := DefaultPolicy()
	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		d := p.Delay(attempt)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, p.Cap)
		prev = d
	}
	require.Equal(t, 2*time.Second, p.Delay(1))
	require.Equal(t, 6*time.Second, p.Delay(3))
	require.Equal(t, 30*time.Second, p.Delay(15))
	require.Equal(t, 30*time.Second, p.Delay(1<<40))
}

func TestTracker_ResetReturnsToBase(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker()

	tr.Next("s1")
	tr.Next("s1")
	require.Equal(t, 3, tr.Next("s1"))
	require.Equal(t, 1, tr.Next("s2"))

	tr.Reset("s1")
	require.Equal(t, 0, tr.Attempts("s1"))
	require.Equal(t, p.Base, p.Delay(tr.Next("s1")))
	require.Equal(t, 1, tr.Attempts("s2"))
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconnect.yaml")
	body := `
baseDelay: 1s
capDelay: 10s
terminal:
  401: logged out
  428: connection closed
clearAuthOn: [428]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := LoadPolicyFile(path, DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, time.Second, p.Base)
	require.Equal(t, 10*time.Second, p.Cap)
	require.False(t, p.Classify(CodeConnectionClosed).Retry)
	require.True(t, p.Classify(CodeReplaced).Retry)
	require.False(t, p.Classify(CodeLoggedOut).ClearAuth)
	require.True(t, p.Classify(CodeConnectionClosed).ClearAuth)
}

func TestLoadPolicyFile_KeepsBaseForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconnect.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capDelay: 1m\n"), 0o600))

	p, err := LoadPolicyFile(path, DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, p.Base)
	require.Equal(t, time.Minute, p.Cap)
	require.True(t, p.Classify(CodeLoggedOut).ClearAuth)
}

func TestLoadPolicyFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("baseDelay: soon\n"), 0o600))
	_, err := LoadPolicyFile(bad, DefaultPolicy())
	require.Error(t, err)

	inverted := filepath.Join(dir, "inverted.yaml")
	require.NoError(t, os.WriteFile(inverted, []byte("baseDelay: 1m\ncapDelay: 1s\n"), 0o600))
	_, err = LoadPolicyFile(inverted, DefaultPolicy())
	require.Error(t, err)

	_, err = LoadPolicyFile(filepath.Join(dir, "missing.yaml"), DefaultPolicy())
	require.Error(t, err)
}
