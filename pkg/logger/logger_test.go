package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitConfiguresGlobalLogger(t *testing.T) {
	restore := Replace(zap.NewNop())
	t.Cleanup(restore)

	require.NoError(t, Init("debug"))
	require.True(t, Logger().Core().Enabled(zap.DebugLevel))
}

func TestInitWithConsoleFormat(t *testing.T) {
	restore := Replace(zap.NewNop())
	t.Cleanup(restore)

	require.NoError(t, InitWithOptions(Options{Level: "warn", Format: "console"}))
	require.False(t, Logger().Core().Enabled(zap.InfoLevel))
	require.True(t, Logger().Core().Enabled(zap.WarnLevel))
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	require.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
	require.Equal(t, zapcore.ErrorLevel, ParseLevel(" ERROR "))
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	t.Cleanup(Replace(zap.New(core)))

	Info("stored", zap.String("key", "user:1"))
	Error("backend failed")
	Warn("slow sweep")
	Debug("hit")

	entries := recorded.All()
	require.Len(t, entries, 4)
	require.Equal(t, "stored", entries[0].Message)
	require.Equal(t, "user:1", entries[0].ContextMap()["key"])
	require.Equal(t, "hit", entries[3].Message)
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(Replace(zap.New(core)))

	WithModule("cache").Info("module test")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "cache", entries[0].ContextMap()["module"])
}

func TestReplaceNilInstallsNop(t *testing.T) {
	t.Cleanup(Replace(nil))
	require.NotNil(t, Logger())
}
