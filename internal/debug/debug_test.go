package debug

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveAndRestoreState saves the debug package state and returns a cleanup function
func saveAndRestoreState() func() {
	originalDebug := EnableDebug
	originalQuiet := QuietMode
	originalOutput := debugOutput
	originalFile := debugFile
	originalComponents := components
	return func() {
		components = originalComponents
		EnableDebug = originalDebug
		QuietMode = originalQuiet
		debugOutput = originalOutput
		debugFile = originalFile
	}
}

func TestIsDebugEnabled(t *testing.T) {
	defer saveAndRestoreState()()
	t.Setenv("DEBUG", "")

	EnableDebug = "false"
	QuietMode = false
	assert.False(t, IsDebugEnabled())

	EnableDebug = "true"
	assert.True(t, IsDebugEnabled())

	QuietMode = true
	assert.False(t, IsDebugEnabled())

	// Invalid value defaults to false
	QuietMode = false
	EnableDebug = "invalid"
	assert.False(t, IsDebugEnabled())

	t.Setenv("DEBUG", "1")
	assert.True(t, IsDebugEnabled())
}

func TestLog(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	QuietMode = false
	LogCache("hit for %s", "/tmp/classes")

	output := buf.String()
	assert.Contains(t, output, "[DEBUG:CACHE]")
	assert.Contains(t, output, "hit for /tmp/classes")
}

func TestLog_QuietMode(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	SetQuietMode(true)
	LogLoader("defined %s", "a.B")

	assert.Empty(t, buf.String())
}

func TestLog_NoWriter(t *testing.T) {
	defer saveAndRestoreState()()

	SetDebugOutput(nil)
	EnableDebug = "true"
	QuietMode = false
	// Must not panic without a writer
	LogScan("nothing to see")
	Printf("nothing %d", 1)
}

func TestInitDebugLogFile(t *testing.T) {
	defer saveAndRestoreState()()

	path, err := InitDebugLogFile()
	require.NoError(t, err)
	defer os.Remove(path)

	EnableDebug = "true"
	QuietMode = false
	LogBuild("compiled %d classes", 3)
	require.NoError(t, CloseDebugLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG:BUILD] compiled 3 classes")

	// Second close is a no-op
	assert.NoError(t, CloseDebugLog())
}

func TestLog_Components(t *testing.T) {
	defer saveAndRestoreState()()
	t.Setenv("DEBUG_COMPONENTS", "")

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	QuietMode = false

	SetComponents("scan", " Watch ")
	LogScan("walked %d roots", 2)
	LogCache("hit")
	LogWatch("event")
	out := buf.String()
	assert.Contains(t, out, "[DEBUG:SCAN] walked 2 roots")
	assert.Contains(t, out, "[DEBUG:WATCH] event")
	assert.NotContains(t, out, "CACHE")

	buf.Reset()
	SetComponents()
	t.Setenv("DEBUG_COMPONENTS", "members")
	LogMembers("found")
	LogLoader("defined")
	assert.Equal(t, "[DEBUG:MEMBERS] found\n", buf.String())
}
