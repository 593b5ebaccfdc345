// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger_Log_ConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logInstance := New(slog.New(handler))

	ctx := context.Background()
	logInstance.Log(ctx, Info, "This is an info message via slog.", Field("username", "john_doe"), slog.Int("age", 30))
	logInstance.Log(ctx, Err, "This is an error message via slog.", slog.String("module", "user-service"), slog.Int("retry", 3))
	logInstance.Log(ctx, Warn, "This is a warn message via slog.", slog.Int("free_space_mb", 100))
	logInstance.Log(ctx, Debug, "This is a debug message via slog.", slog.String("module", "main"))

	output := buf.String()
	expectedMessages := []string{
		"This is an info message via slog.",
		"This is an error message via slog.",
		"This is a warn message via slog.",
		"This is a debug message via slog.",
		`"lib":"msal"`,
		`"level":"DEBUG"`,
	}

	for _, msg := range expectedMessages {
		if !strings.Contains(output, msg) {
			t.Errorf("expected log message %q not found in output", msg)
		}
	}
}

func TestLogger_Nil(t *testing.T) {
	New(nil).Log(context.Background(), Info, "discarded")

	var l *Logger
	l.Log(context.Background(), Info, "nil receiver")
}
