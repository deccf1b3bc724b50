package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDesk struct {
	files      map[string]string
	isDir      bool
	execCmds   []string
	execOut    string
	execStderr string
	execCode   int
	execFail   error
	xdoCalls   [][]string
	xdoOut     string
	xdoFail    error
	shot       string
	shotFail   error
	shots      int
}

func newFakeDesk() *fakeDesk {
	return &fakeDesk{
		files: make(map[string]string),
		shot:  "c2hvdA==",
	}
}

func (d *fakeDesk) Exec(ctx context.Context, command string) (string, string, int, error) {
	d.execCmds = append(d.execCmds, command)
	if d.execFail != nil {
		return "", "", 0, d.execFail
	}
	if strings.HasPrefix(command, "test -d") {
		if d.isDir {
			return "", "", 0, nil
		}
		return "", "", 1, nil
	}
	return d.execOut, d.execStderr, d.execCode, nil
}

func (d *fakeDesk) Screenshot(ctx context.Context) (string, error) {
	d.shots++
	if d.shotFail != nil {
		return "", d.shotFail
	}
	return d.shot, nil
}

func (d *fakeDesk) Xdotool(ctx context.Context, args ...string) (string, error) {
	d.xdoCalls = append(d.xdoCalls, args)
	if d.xdoFail != nil {
		return "", d.xdoFail
	}
	return d.xdoOut, nil
}

func (d *fakeDesk) ReadFile(ctx context.Context, path string) (string, error) {
	content, ok := d.files[path]
	if !ok {
		return "", fmt.Errorf("read %s: no such file or directory", path)
	}
	return content, nil
}

func (d *fakeDesk) WriteFile(ctx context.Context, path, content string) error {
	d.files[path] = content
	return nil
}

func TestInvokeUnknownToolReturnsNil(t *testing.T) {
	desk := newFakeDesk()
	col := NewCollection(desk, nil)

	if res := col.Invoke(context.Background(), "teleport", nil); res != nil {
		t.Fatalf("expected nil result for unknown tool, got %+v", res)
	}
	if desk.shots != 0 {
		t.Fatalf("expected no screenshots, got %d", desk.shots)
	}
}

func TestInvokeBashReturnsOutput(t *testing.T) {
	desk := newFakeDesk()
	desk.execOut = "notes.txt\n"
	col := NewCollection(desk, nil)

	res := col.Invoke(context.Background(), "bash", map[string]any{"command": "ls /tmp"})
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.Output != "notes.txt\n" {
		t.Fatalf("expected command output, got %q", res.Output)
	}
	if res.Error != "" || res.Base64Image != "" {
		t.Fatalf("expected plain output result, got %+v", res)
	}
	if desk.shots != 0 {
		t.Fatalf("expected no screenshot substitution, got %d", desk.shots)
	}
}

func TestInvokeBashFailureIsStructured(t *testing.T) {
	desk := newFakeDesk()
	desk.execStderr = "ls: cannot access '/nope': No such file or directory"
	desk.execCode = 2
	col := NewCollection(desk, nil)

	res := col.Invoke(context.Background(), "bash", map[string]any{"command": "ls /nope"})
	if res == nil {
		t.Fatal("expected a result")
	}
	if !strings.Contains(res.Error, "No such file") {
		t.Fatalf("expected stderr in error, got %q", res.Error)
	}
}

func TestBlindShellSubstitutesScreenshot(t *testing.T) {
	desk := newFakeDesk()
	col := NewCollection(desk, nil)

	res := col.Invoke(context.Background(), "bash", map[string]any{"command": `echo -n ""`})
	if res == nil {
		t.Fatal("expected a substituted screenshot result")
	}
	if res.Base64Image != desk.shot {
		t.Fatalf("expected screenshot image, got %+v", res)
	}
	if desk.shots != 1 {
		t.Fatalf("expected exactly one screenshot, got %d", desk.shots)
	}
}

func TestBrokenShellSubstitutesScreenshot(t *testing.T) {
	desk := newFakeDesk()
	desk.execFail = errors.New("exec transport broke")
	col := NewCollection(desk, nil)

	res := col.Invoke(context.Background(), "bash", map[string]any{"command": "ls"})
	if res == nil {
		t.Fatal("expected a substituted screenshot result")
	}
	if res.Base64Image != desk.shot {
		t.Fatalf("expected screenshot image, got %+v", res)
	}
}

func TestBlindShellReportsFailedCapture(t *testing.T) {
	desk := newFakeDesk()
	desk.shotFail = errors.New("scrot missing")
	col := NewCollection(desk, nil)

	res := col.Invoke(context.Background(), "bash", map[string]any{"command": `echo -n ""`})
	if res == nil {
		t.Fatal("expected a result despite capture failure")
	}
	if !strings.Contains(res.Error, "scrot missing") {
		t.Fatalf("expected capture error surfaced, got %+v", res)
	}
}

func TestBlindShellDegradesToEmptyResult(t *testing.T) {
	desk := newFakeDesk()
	col := &Collection{
		tools: map[string]Tool{
			bashToolName:     NewBashTool(desk),
			computerToolName: panicTool{},
		},
		logger: discardLogger(),
	}

	res := col.Invoke(context.Background(), "bash", map[string]any{"command": `echo -n ""`})
	if res == nil {
		t.Fatal("expected an empty result, not nil")
	}
	if !res.Empty() {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

type panicTool struct{}

func (panicTool) Name() string   { return "boom" }
func (panicTool) Schema() Schema { return Schema{Name: "boom"} }
func (panicTool) Invoke(ctx context.Context, input map[string]any) (*Result, error) {
	panic("tool exploded")
}

func TestPanickingToolYieldsNil(t *testing.T) {
	col := &Collection{tools: map[string]Tool{"boom": panicTool{}}}
	col.logger = discardLogger()

	if res := col.Invoke(context.Background(), "boom", nil); res != nil {
		t.Fatalf("expected nil result from panicking tool, got %+v", res)
	}
}

func TestSchemasAreStable(t *testing.T) {
	col := NewCollection(newFakeDesk(), nil)

	schemas := col.Schemas()
	want := []string{"bash", "computer", "str_replace_editor"}
	if len(schemas) != len(want) {
		t.Fatalf("expected %d schemas, got %d", len(want), len(schemas))
	}
	for i, name := range want {
		if schemas[i].Name != name {
			t.Fatalf("expected schema %d to be %s, got %s", i, name, schemas[i].Name)
		}
	}
}
