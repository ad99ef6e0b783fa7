package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(WithRegistry(reg), WithNamespace("test"))

	r.RunStarted()
	r.File(FileIncluded)
	r.File(FileIncluded)
	r.File(FileOmitted)
	r.RunFinished("markdown", OutcomeSuccess, 20*time.Millisecond, 512)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.Counter != nil:
				values[key] = m.Counter.GetValue()
			case m.Gauge != nil:
				values[key] = m.Gauge.GetValue()
			case m.Histogram != nil:
				values[key] = float64(m.Histogram.GetSampleCount())
			}
		}
	}

	want := map[string]float64{
		"test_runs_total,format=markdown,outcome=success": 1,
		"test_files_total,outcome=included":               2,
		"test_files_total,outcome=omitted":                1,
		"test_document_bytes_total":                       512,
		"test_active_runs":                                0,
		"test_run_duration_seconds,format=markdown":       1,
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %v, want %v", k, values[k], v)
		}
	}
}

func TestNilRecorder(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.RunStarted()
	r.File(FileFailed)
	r.RunFinished("xml", OutcomeFailed, time.Second, 0)
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(WithRegistry(reg))
	r.File(FileSkipped)

	path := filepath.Join(t.TempDir(), "pack.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `sourcepack_files_total{outcome="skipped"} 1`) {
		t.Errorf("textfile missing counter:\n%s", data)
	}
}
