package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestDisplayPath(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"/proj", "/proj/main.py", "main.py"},
		{"/proj", "/proj/pkg/mod.py", "pkg/mod.py"},
		{"/proj", "/elsewhere/x.py", "/elsewhere/x.py"},
	}
	for _, tc := range cases {
		if got := DisplayPath(tc.base, tc.path); got != tc.want {
			t.Errorf("DisplayPath(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}

func TestRenderFileList(t *testing.T) {
	var buf bytes.Buffer
	RenderFileList(&buf, sampleResult(), "/proj")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %v, want 3", lines)
	}
	if lines[0] != "main.py" || lines[2] != "utils.py" {
		t.Errorf("lines = %v", lines)
	}
}

func TestRenderReasons(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	RenderReasons(&buf, sampleResult(), "/proj")
	out := buf.String()

	if !strings.Contains(out, "entry") {
		t.Error("missing entry kind")
	}
	if !strings.Contains(out, "from_import+package_init") {
		t.Errorf("missing package_init annotation in:\n%s", out)
	}
	if !strings.Contains(out, "<- main.py") {
		t.Errorf("missing parent attribution in:\n%s", out)
	}
	if !strings.Contains(out, "Unresolved:") || !strings.Contains(out, "gone") {
		t.Errorf("missing unresolved section in:\n%s", out)
	}
}

func TestRenderWarnings(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	RenderWarnings(&buf, []string{"one", "two"})
	out := buf.String()

	if strings.Count(out, "warning:") != 2 {
		t.Errorf("output = %q, want two warning lines", out)
	}

	buf.Reset()
	RenderWarnings(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("output for no warnings = %q, want empty", buf.String())
	}
}
