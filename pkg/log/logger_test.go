package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologLogger_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, zerolog.DebugLevel)

	logger.Info("iteration",
		OperationKey, "fit",
		IterationKey, 3,
		DevianceKey, 123.456,
	)

	out := buf.String()
	for _, want := range []string{`"operation":"fit"`, `"iteration":3`, `"deviance":123.456`, "iteration"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, zerolog.DebugLevel).With(ModelNameKey, "GLMPCA")

	logger.Debug("starting")
	if out := buf.String(); !strings.Contains(out, `"model":"GLMPCA"`) {
		t.Errorf("derived logger should carry the model field: %s", out)
	}
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, zerolog.WarnLevel)

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("info below warn level must not be emitted: %s", buf.String())
	}
	logger.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("error above warn level must be emitted: %s", buf.String())
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	orig := GetLogger()
	defer SetLogger(orig)

	SetLogger(NewZerologLogger(&buf, zerolog.DebugLevel))
	GetLoggerWithName("GLMPCA").Info("hello")
	out := buf.String()
	if !strings.Contains(out, `"model":"GLMPCA"`) || !strings.Contains(out, "hello") {
		t.Errorf("unexpected output: %s", out)
	}
}
