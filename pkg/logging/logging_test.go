package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetup(t *testing.T) {
	for _, debug := range []bool{false, true} {
		if err := Setup(debug, "sourcepack", "test"); err != nil {
			t.Fatalf("Setup(%v) error = %v", debug, err)
		}
		if got := Logger.Core().Enabled(zapcore.DebugLevel); got != debug {
			t.Errorf("debug level enabled = %v, want %v", got, debug)
		}
	}
}
