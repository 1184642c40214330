package presenter

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	presenter := New()
	assert.NotNil(t, presenter)
	assert.Equal(t, os.Stdout, presenter.output)
	assert.Equal(t, os.Stderr, presenter.errorOutput)
	assert.False(t, presenter.quiet)
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name           string
		noColor        string
		skillgateColor string
		expected       ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"SKILLGATE_COLOR always", "", "always", ColorAlways},
		{"SKILLGATE_COLOR force", "", "force", ColorAlways},
		{"SKILLGATE_COLOR never", "", "never", ColorNever},
		{"SKILLGATE_COLOR off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"invalid value", "", "sometimes", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("NO_COLOR")
			os.Unsetenv("SKILLGATE_COLOR")

			if tt.noColor != "" {
				os.Setenv("NO_COLOR", tt.noColor)
			}
			if tt.skillgateColor != "" {
				os.Setenv("SKILLGATE_COLOR", tt.skillgateColor)
			}

			assert.Equal(t, tt.expected, detectColorMode())

			os.Unsetenv("NO_COLOR")
			os.Unsetenv("SKILLGATE_COLOR")
		})
	}
}

func TestError(t *testing.T) {
	var errorOutput bytes.Buffer
	presenter := NewWithOptions(nil, &errorOutput, ColorNever)

	err := errors.New("test error")
	presenter.Error(err, "test context")

	output := errorOutput.String()
	assert.Contains(t, output, "[ERROR]")
	assert.Contains(t, output, "test context")
	assert.Contains(t, output, "test error")

	errorOutput.Reset()
	presenter.Error(err, "")
	output = errorOutput.String()
	assert.Contains(t, output, "[ERROR]")
	assert.NotContains(t, output, "test context")

	errorOutput.Reset()
	presenter.Error(nil, "context")
	assert.Empty(t, errorOutput.String())
}

func TestSuccessAndWarning(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Success("installed")
	assert.Contains(t, output.String(), "✓")
	assert.Contains(t, output.String(), "installed")

	output.Reset()
	presenter.Warning("risky")
	assert.Contains(t, output.String(), "⚠")
	assert.Contains(t, output.String(), "risky")
}

func TestSection(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Section("Findings")
	assert.Contains(t, output.String(), "Findings")
	assert.Contains(t, output.String(), "--------")
}

func TestQuietMode(t *testing.T) {
	var output, errorOutput bytes.Buffer
	presenter := NewWithOptions(&output, &errorOutput, ColorNever)
	presenter.SetQuiet(true)
	assert.True(t, presenter.IsQuiet())

	presenter.Success("hidden")
	presenter.Warning("hidden")
	presenter.Info("hidden")
	presenter.Section("hidden")
	presenter.Separator()
	assert.Empty(t, output.String())

	// errors are never suppressed
	presenter.Error(errors.New("still shown"), "")
	assert.Contains(t, errorOutput.String(), "still shown")
}
