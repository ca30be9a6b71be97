package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext_FallsBackToDefault(t *testing.T) {
	require.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith_AddsAttributes(t *testing.T) {
	// --- Arrange ---
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)

	// --- Act ---
	FromContext(With(ctx, "tag", "module")).Info("hello")

	// --- Assert ---
	require.Contains(t, buf.String(), "tag=module")
	require.Contains(t, buf.String(), "msg=hello")
}

func TestWithLogger_NilKeepsContext(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, ctx, WithLogger(ctx, nil))
}
