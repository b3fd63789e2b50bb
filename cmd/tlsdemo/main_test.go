// main_test.go tests the tlsdemo commands.
package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = dispatch(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

// TestRun tests the literal scenario: a new thread prints the default 5.
func TestRun(t *testing.T) {
	code, out, _ := runCLI(t, "run")
	require.Equal(t, 0, code)
	assert.Equal(t, "5\n", out)
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"scenario", "basic"}, []string{"5\n"}},
		{[]string{"scenario", "isolation"}, []string{"thread A wrote 7, reads 7", "thread B reads 5"}},
		{[]string{"scenario", "lazy"}, []string{
			"a: initialized 1 time(s)",
			"b: initialized 0 time(s)",
			"c: initialized 0 time(s)",
			"eager: initialized 1 time(s)",
		}},
		{[]string{"scenario", "late"}, []string{"reads 9"}},
		{[]string{"scenario", "stress", "-threads", "16", "-slots", "8", "-rounds", "2"}, []string{
			"threads: 16 started, 16 exited",
			"slots: 8",
			"storage released: ok",
		}},
		{[]string{"scenario", "fault"}, []string{"reported: use after thread exit: slot x(1)"}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args[1:], " "), func(t *testing.T) {
			code, out, errOut := runCLI(t, tt.args...)
			require.Equal(t, 0, code, errOut)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestFaultReport(t *testing.T) {
	code, _, errOut := runCLI(t, "scenario", "fault")
	require.Equal(t, 0, code)
	assert.Contains(t, errOut, "WARNING: THREAD-LOCAL STORAGE CONTRACT VIOLATION")
	assert.Contains(t, errOut, "Slot declared at:")
	assert.Contains(t, errOut, "faultScenario")
}

func TestStats(t *testing.T) {
	code, out, errOut := runCLI(t, "stats", "-threads", "4")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "threads:           8 started, 8 exited, 0 live")
	assert.Contains(t, out, "violations:        0")
	assert.Contains(t, out, "counter")
	assert.Contains(t, out, "user")
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "USAGE:"},
		{"unknown command", []string{"frobnicate"}, "Unknown command: frobnicate"},
		{"no scenario", []string{"scenario"}, "no scenario specified"},
		{"unknown scenario", []string{"scenario", "nope"}, `unknown scenario "nope"`},
		{"bad flag", []string{"scenario", "stress", "-bogus"}, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestBadEnvironment(t *testing.T) {
	t.Setenv("TLSENGINE_OPTIONS", "colour=blue")
	code, _, errOut := runCLI(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown option")
}

func TestVersionAndHelp(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "tlsdemo version "))

	code, out, _ = runCLI(t, "help")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "SCENARIOS:")
	assert.Contains(t, out, "isolation")
}
