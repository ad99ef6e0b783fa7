package pack

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sourcepack/pkg/config"
	"sourcepack/pkg/metrics"
	"sourcepack/pkg/output"
	"sourcepack/pkg/serialize"
	"sourcepack/pkg/vnode"
)

// scenarioFS is a project with one 20-byte text file and a png.
func scenarioFS() fstest.MapFS {
	return fstest.MapFS{
		"src/main.txt": {Data: []byte("hello, packed world\n")},
		"image.png":    {Data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")},
	}
}

func handleRoot(t *testing.T, fsys fs.FS, name string) vnode.Node {
	t.Helper()
	root, err := vnode.NewHandleNode(fsys, name)
	if err != nil {
		t.Fatalf("NewHandleNode() error = %v", err)
	}
	return root
}

func packString(t *testing.T, ctx context.Context, root vnode.Node, cfg config.Config) (string, Result) {
	t.Helper()
	var buf bytes.Buffer
	res, err := Run(ctx, root, output.WriterSink(&buf, ""), Options{Config: cfg})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Bytes != int64(buf.Len()) {
		t.Errorf("Result.Bytes = %d, buffer holds %d", res.Bytes, buf.Len())
	}
	return buf.String(), res
}

const scenarioOutline = "📦 proj\n" +
	" 📂 src\n" +
	"   📄 main.txt\n" +
	" 📄 image.png\n"

func TestScenarioFullMarkdown(t *testing.T) {
	t.Parallel()

	got, res := packString(t, context.Background(), handleRoot(t, scenarioFS(), "proj"), config.Default())
	want := "# Project: proj\n\n" +
		"## Project Structure\n\n```text\n" + scenarioOutline + "```\n\n" +
		"## File Contents\n\n" +
		"\n## src/main.txt\n```txt\nhello, packed world\n```\n"
	if got != want {
		t.Errorf("document mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}
	if res.Files != 1 || res.Omitted != 1 || res.Errors != 0 {
		t.Errorf("Result = %+v, want 1 file and 1 omitted", res)
	}
}

func TestScenarioTreeOnlyMarkdown(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Mode = config.ModeTreeOnly
	got, _ := packString(t, context.Background(), handleRoot(t, scenarioFS(), "proj"), cfg)
	want := "# Project: proj\n\n## Project Structure\n\n```text\n" + scenarioOutline + "```\n\n"
	if got != want {
		t.Errorf("document mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}
	if strings.Contains(got, "File Contents") {
		t.Error("tree-only document has a File Contents section")
	}
}

func TestScenarioText(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Format = "text"
	got, _ := packString(t, context.Background(), handleRoot(t, scenarioFS(), "proj"), cfg)
	want := "# Project: proj\n\n" +
		"## Project Structure\n\n```text\n" + scenarioOutline + "```\n\n" +
		"## File Contents\n\n" +
		"\n--- src/main.txt ---\nhello, packed world\n\n"
	if got != want {
		t.Errorf("document mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestScenarioXML(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Format = "xml"
	got, _ := packString(t, context.Background(), handleRoot(t, scenarioFS(), "proj"), cfg)
	want := "<project name=\"proj\">\n<files>\n" +
		"  <dir name=\"src\">\n" +
		"\n<file path=\"src/main.txt\">\nhello, packed world\n</file>\n" +
		"  </dir>\n" +
		"</files>\n</project>"
	if got != want {
		t.Errorf("document mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestXMLTreeOnlyHasEmptyBodies(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Format = "xml"
	cfg.Mode = config.ModeTreeOnly
	got, res := packString(t, context.Background(), handleRoot(t, scenarioFS(), "proj"), cfg)
	if strings.Contains(got, "hello") {
		t.Errorf("tree-only XML contains a body:\n%s", got)
	}
	for _, want := range []string{`<file path="src/main.txt">`, `<file path="image.png">`} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %s in\n%s", want, got)
		}
	}
	if res.Files != 1 || res.Omitted != 1 {
		t.Errorf("Result = %+v", res)
	}
	assertWellFormed(t, got)
}

func TestXMLWellFormedForNestedTrees(t *testing.T) {
	t.Parallel()

	deep := strings.Repeat("d/", 30) + "leaf.go"
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"empty", fstest.MapFS{}},
		{"single file", fstest.MapFS{"a.go": {Data: []byte("package a\n")}}},
		{"deep", fstest.MapFS{deep: {Data: []byte("x < y && y > z\n")}}},
		{"siblings", fstest.MapFS{
			"a/b/c.txt":  {Data: []byte("c")},
			"a/d.txt":    {Data: []byte("d")},
			"e/f/g/h.md": {Data: []byte("<h>")},
			"z.txt":      {Data: []byte("z")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Format = "xml"
			got, _ := packString(t, context.Background(), handleRoot(t, tt.fsys, "p&q"), cfg)
			assertWellFormed(t, got)
		})
	}
}

func assertWellFormed(t *testing.T, doc string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("document is not well-formed: %v\n%s", err, doc)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if depth != 0 {
		t.Fatalf("unclosed elements: depth %d", depth)
	}
}

func TestDestinationNeverPacked(t *testing.T) {
	t.Parallel()

	for _, mode := range []config.Mode{config.ModeFull, config.ModeTreeOnly} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("notes\n"), 0o644); err != nil {
				t.Fatal(err)
			}
			dest := filepath.Join(dir, "out.md")
			sink, err := output.CreateFile(dest, nil)
			if err != nil {
				t.Fatal(err)
			}
			root, err := vnode.NewFSNode(dir)
			if err != nil {
				t.Fatal(err)
			}

			cfg := config.Default()
			cfg.Mode = mode
			if _, err := Run(context.Background(), root, sink, Options{Config: cfg}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			data, err := os.ReadFile(dest)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(data), "notes.txt") {
				t.Errorf("notes.txt missing:\n%s", data)
			}
			if strings.Contains(string(data), "out.md") {
				t.Errorf("destination packed into itself:\n%s", data)
			}
		})
	}
}

func TestSelectionMarkdown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var members []vnode.Node
	for name, body := range map[string]string{"b.go": "package b\n", "a.py": "print(1)\n"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		n, err := vnode.NewFSNode(path)
		if err != nil {
			t.Fatal(err)
		}
		members = append(members, n)
	}
	root := vnode.NewSelection(output.SelectionTitle, members...)

	got, _ := packString(t, context.Background(), root, config.Default())
	want := "# Selected Files\n\n" +
		"\n## a.py\n```py\nprint(1)\n```\n" +
		"\n## b.go\n```go\npackage b\n```\n"
	if got != want {
		t.Errorf("document mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}

	cfg := config.Default()
	cfg.Mode = config.ModeTreeOnly
	got, _ = packString(t, context.Background(), root, cfg)
	want = "# Selected Files\n\n## Project Structure\n\n```text\n📦 Selected Files\n 📄 a.py\n 📄 b.go\n```\n\n"
	if got != want {
		t.Errorf("tree-only selection mismatch\ngot:\n%q\nwant:\n%q", got, want)
	}
}

// failFS fails to open one file while still listing it.
type failFS struct {
	fstest.MapFS
	bad string
}

func (f failFS) Open(name string) (fs.File, error) {
	if name == f.bad {
		return nil, fs.ErrPermission
	}
	return f.MapFS.Open(name)
}

func TestReadErrorIsIsolated(t *testing.T) {
	t.Parallel()

	fsys := failFS{
		MapFS: fstest.MapFS{
			"a.txt": {Data: []byte("first\n")},
			"b.txt": {Data: []byte("locked\n")},
			"c.txt": {Data: []byte("third\n")},
		},
		bad: "b.txt",
	}
	for _, format := range []string{"markdown", "xml"} {
		t.Run(format, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Format = format
			got, res := packString(t, context.Background(), handleRoot(t, fsys, "locked"), cfg)
			if res.Errors != 1 || res.Files != 2 {
				t.Errorf("Result = %+v, want 2 files and 1 error", res)
			}
			if !strings.Contains(got, "[Read Error: ") {
				t.Errorf("missing read error marker:\n%s", got)
			}
			if !strings.Contains(got, "third") {
				t.Errorf("run stopped at the failing file:\n%s", got)
			}
			if format == "xml" {
				assertWellFormed(t, got)
			}
		})
	}
}

func TestOmittedAndBinaryMarkers(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"blob.dat":  {Data: []byte("ab\x00cd")},
		"image.png": {Data: []byte("png")},
	}

	got, _ := packString(t, context.Background(), handleRoot(t, fsys, "m"), config.Default())
	if !strings.Contains(got, "\n## blob.dat\n```dat\n"+serialize.BinaryMarker+"\n```\n") {
		t.Errorf("sniffed binary should get a marker:\n%s", got)
	}
	if strings.Contains(got, "## image.png") {
		t.Errorf("binary extension should be silent by default:\n%s", got)
	}

	cfg := config.Default()
	cfg.MarkOmitted = true
	got, _ = packString(t, context.Background(), handleRoot(t, fsys, "m"), cfg)
	if !strings.Contains(got, "\n## image.png\n```png\n"+serialize.OmittedMarker+"\n```\n") {
		t.Errorf("mark_omitted should write a placeholder:\n%s", got)
	}
}

func TestGitignoreApplied(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		".gitignore":    {Data: []byte("*.log\ntmp/\n")},
		"app.log":       {Data: []byte("noise")},
		"tmp/cache.txt": {Data: []byte("cache")},
		"main.go":       {Data: []byte("package main\n")},
	}
	got, _ := packString(t, context.Background(), handleRoot(t, fsys, "g"), config.Default())
	for _, unwanted := range []string{"app.log", "tmp", "cache.txt"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("%s should be ignored:\n%s", unwanted, got)
		}
	}

	cfg := config.Default()
	cfg.UseGitignore = false
	got, _ = packString(t, context.Background(), handleRoot(t, fsys, "g"), cfg)
	if !strings.Contains(got, "## app.log") {
		t.Errorf("use_gitignore=false should keep app.log:\n%s", got)
	}
}

func TestCancellation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		deleteOnCancel bool
		wantFile       bool
	}{
		{"keep partial", false, true},
		{"delete partial", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dest := filepath.Join(t.TempDir(), "out.md")
			sink, err := output.CreateFile(dest, nil)
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			cfg := config.Default()
			cfg.DeleteOnCancel = tt.deleteOnCancel
			res, err := Run(ctx, handleRoot(t, scenarioFS(), "proj"), sink, Options{Config: cfg})
			if err != nil {
				t.Fatalf("Run() error = %v, want nil on cancellation", err)
			}
			if !res.Canceled {
				t.Fatal("Result.Canceled = false")
			}
			if res.Files != 0 {
				t.Errorf("canceled run wrote %d files", res.Files)
			}
			_, statErr := os.Stat(dest)
			if exists := statErr == nil; exists != tt.wantFile {
				t.Errorf("destination exists = %v, want %v", exists, tt.wantFile)
			}
		})
	}
}

func TestUnreadableRootIsFatal(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "gone")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	root, err := vnode.NewFSNode(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := Run(context.Background(), root, output.WriterSink(&buf, ""), Options{Config: config.Default()}); err == nil {
		t.Fatal("Run() expected an error for an unreadable root")
	}
}

func TestInvalidConfigClosesSink(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "out.md")
	sink, err := output.CreateFile(dest, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Format = "pdf"
	if _, err := Run(context.Background(), handleRoot(t, scenarioFS(), "p"), sink, Options{Config: cfg}); err == nil {
		t.Fatal("Run() expected an error for an invalid format")
	}
	if _, err := sink.Write([]byte("x")); err == nil {
		t.Error("sink should be closed after a failed run")
	}
}

func TestProgressReportsInTraversalOrder(t *testing.T) {
	t.Parallel()

	ch := make(chan Progress, 16)
	var buf bytes.Buffer
	_, err := Run(context.Background(), handleRoot(t, scenarioFS(), "proj"), output.WriterSink(&buf, ""), Options{
		Config:           config.Default(),
		Progress:         ch,
		ProgressInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	close(ch)

	var paths []string
	for p := range ch {
		paths = append(paths, p.Path)
	}
	if len(paths) == 0 {
		t.Fatal("no progress reported")
	}
	if paths[0] != "src/main.txt" {
		t.Errorf("first report = %q, want src/main.txt", paths[0])
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	rec := metrics.New(metrics.WithRegistry(reg))
	var buf bytes.Buffer
	if _, err := Run(context.Background(), handleRoot(t, scenarioFS(), "proj"), output.WriterSink(&buf, ""), Options{
		Config:  config.Default(),
		Metrics: rec,
	}); err != nil {
		t.Fatal(err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	series := map[string]int{}
	for _, mf := range families {
		series[mf.GetName()] = len(mf.GetMetric())
	}
	if series["sourcepack_runs_total"] != 1 {
		t.Errorf("runs_total series = %d, want 1", series["sourcepack_runs_total"])
	}
	// included and omitted
	if series["sourcepack_files_total"] != 2 {
		t.Errorf("files_total series = %d, want 2", series["sourcepack_files_total"])
	}
}
