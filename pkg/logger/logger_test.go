package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestWithContextAddsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	ctx := context.WithValue(context.Background(), ColumnKey, "mz")
	ctx = context.WithValue(ctx, StorageKey, "feature_list")
	ctx = context.WithValue(ctx, RunIDKey, "r1")
	WithContext(ctx).Info("resized")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "mz", fields["column"])
	assert.Equal(t, "feature_list", fields["storage"])
	assert.Equal(t, "r1", fields["run_id"])
}

func TestGetFallsBackToDefault(t *testing.T) {
	Set(nil)
	assert.NotNil(t, Get())
}
