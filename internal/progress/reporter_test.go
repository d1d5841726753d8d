package progress

import (
	"bytes"
	"testing"
)

func TestFuncStartsOnce(t *testing.T) {
	var buf bytes.Buffer
	r := &CIReporter{Description: "Scanning vsts subscriptions", Out: &buf}

	update := Func(r, "integration")
	update(1, 2)
	update(2, 2)
	r.Finish()

	want := "Scanning vsts subscriptions: 2 item(s)\n" +
		"[1/2] integration\n" +
		"[2/2] integration\n" +
		"Scanning vsts subscriptions: done\n"
	if got := buf.String(); got != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestNewReporterCI(t *testing.T) {
	t.Setenv("CI", "true")
	if _, ok := NewReporter("x").(*CIReporter); !ok {
		t.Error("expected CIReporter when CI is set")
	}
}

func TestTerminalReporterWithoutStart(t *testing.T) {
	r := &TerminalReporter{}
	r.Update(1, "ignored")
	r.Finish()
}
