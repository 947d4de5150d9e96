package debug

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stderr = w
	fn()
	w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	io.Copy(&buf, r) //nolint:errcheck
	return buf.String()
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r) //nolint:errcheck
	return buf.String()
}

func TestLogfRespectsEnabled(t *testing.T) {
	oldEnabled := enabled
	defer func() { enabled = oldEnabled }()

	enabled = true
	if got := captureStderr(t, func() { Logf("scrape %s\n", "austin") }); got != "scrape austin\n" {
		t.Errorf("enabled Logf output = %q", got)
	}

	enabled = false
	if got := captureStderr(t, func() { Logf("scrape %s\n", "austin") }); got != "" {
		t.Errorf("disabled Logf output = %q, want empty", got)
	}
}

func TestVerboseOverridesEnv(t *testing.T) {
	oldEnabled, oldVerbose := enabled, verboseMode
	defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

	enabled = false
	verboseMode = false
	if Enabled() {
		t.Error("Enabled() should be false with env unset and verbose off")
	}
	SetVerbose(true)
	if !Enabled() {
		t.Error("Enabled() should be true after SetVerbose(true)")
	}
	SetVerbose(false)
}

func TestQuietSuppressesNormalOutput(t *testing.T) {
	oldQuiet := quietMode
	defer func() { quietMode = oldQuiet }()

	SetQuiet(false)
	if got := captureStdout(t, func() { PrintNormal("cycle %d done\n", 3) }); got != "cycle 3 done\n" {
		t.Errorf("PrintNormal output = %q", got)
	}

	SetQuiet(true)
	if !IsQuiet() {
		t.Error("IsQuiet() should be true after SetQuiet(true)")
	}
	if got := captureStdout(t, func() { PrintlnNormal("cycle", "done") }); got != "" {
		t.Errorf("quiet PrintlnNormal output = %q, want empty", got)
	}
}
