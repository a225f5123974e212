package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	oldLogger := defaultLogger
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	defaultLogger = slog.New(handler)

	f()

	defaultLogger = oldLogger
	return buf.String()
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  Level
		format Format
	}{
		{
			name:   "Debug level JSON format",
			level:  LevelDebug,
			format: FormatJSON,
		},
		{
			name:   "Info level JSON format",
			level:  LevelInfo,
			format: FormatJSON,
		},
		{
			name:   "Warn level Text format",
			level:  LevelWarn,
			format: FormatText,
		},
		{
			name:   "Error level Text format",
			level:  LevelError,
			format: FormatText,
		},
		{
			name:   "Default level (invalid value)",
			level:  Level(999),
			format: FormatJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitLogger(tt.level, tt.format)
			logger := GetLogger()
			if logger == nil {
				t.Error("Expected logger to be initialized, got nil")
			}
		})
	}
}

func TestGetLogger(t *testing.T) {
	InitLogger(LevelInfo, FormatJSON)
	logger := GetLogger()
	if logger == nil {
		t.Fatal("Expected logger, got nil")
	}
}

func TestLoggingFunctions(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(string, ...any)
		message string
	}{
		{"Debug", Debug, "debug message"},
		{"Info", Info, "info message"},
		{"Warn", Warn, "warn message"},
		{"Error", Error, "error message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureLogOutput(func() {
				tt.logFunc(tt.message, "key", "value")
			})
			if !strings.Contains(output, tt.message) {
				t.Errorf("Expected output to contain %q, got %q", tt.message, output)
			}
			if !strings.Contains(output, `"key":"value"`) {
				t.Errorf("Expected output to contain key/value pair, got %q", output)
			}
		})
	}
}

func TestConversionWarnings(t *testing.T) {
	output := captureLogOutput(func() {
		ConversionWarnings("to-docx", "draft.md", []string{
			`unresolved citation key "nope"`,
			"skipping unrecognized element tbl",
		})
	})
	if got := strings.Count(output, "conversion_warning"); got != 2 {
		t.Errorf("Expected 2 warning records, got %d in %q", got, output)
	}
	for _, want := range []string{"to-docx", "draft.md", "nope", "tbl"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got %q", want, output)
		}
	}
}

func TestConversionWarningsEmpty(t *testing.T) {
	output := captureLogOutput(func() {
		ConversionWarnings("from-docx", "in.docx", nil)
	})
	if output != "" {
		t.Errorf("Expected no output for empty warning list, got %q", output)
	}
}
