package engine

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/threadlocal/internal/tls/handle"
	"github.com/kolkov/threadlocal/internal/tls/logger"
	"github.com/kolkov/threadlocal/internal/tls/sitedepot"
	"github.com/kolkov/threadlocal/internal/tls/slot"
	"github.com/kolkov/threadlocal/internal/tls/threads"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		check   func(t *testing.T, c Config)
		wantErr string
	}{
		{
			name: "empty",
			in:   "",
			check: func(t *testing.T, c Config) {
				assert.Zero(t, c.MaxSlots)
				assert.Nil(t, c.OnViolation)
				assert.Nil(t, c.Logging)
			},
		},
		{
			name: "limits",
			in:   "max_slots=1024  max_threads=8",
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 1024, c.MaxSlots)
				assert.Equal(t, 8, c.MaxThreads)
			},
		},
		{
			name: "reentry",
			in:   "reentry=default",
			check: func(t *testing.T, c Config) {
				assert.Equal(t, slot.ReentryReturnDefault, c.DefaultReentry)
			},
		},
		{
			name: "no halt",
			in:   "halt_on_violation=0",
			check: func(t *testing.T, c Config) {
				require.NotNil(t, c.OnViolation)
			},
		},
		{
			name: "logging",
			in:   "log=debug log_json=1",
			check: func(t *testing.T, c Config) {
				require.NotNil(t, c.Logging)
				assert.True(t, c.Logging.Enabled)
				assert.Equal(t, slog.LevelDebug, c.Logging.Level)
				assert.True(t, c.Logging.JSON)
			},
		},
		{
			name: "logging off",
			in:   "log=off",
			check: func(t *testing.T, c Config) {
				require.NotNil(t, c.Logging)
				assert.False(t, c.Logging.Enabled)
			},
		},
		{name: "missing value", in: "max_slots", wantErr: "missing '='"},
		{name: "bad count", in: "max_slots=-1", wantErr: "invalid count"},
		{name: "bad reentry", in: "reentry=sometimes", wantErr: "reentry"},
		{name: "bad bool", in: "halt_on_violation=maybe", wantErr: "halt_on_violation"},
		{name: "bad level", in: "log=loud", wantErr: "log"},
		{name: "unknown key", in: "colour=blue", wantErr: "unknown option"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseOptions(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvOptions, "max_slots=3")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxSlots)

	e := New(cfg)
	assert.Equal(t, 3, e.Registry().MaxSlots())
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, slot.DefaultMaxSlots, c.MaxSlots)
	assert.Equal(t, threads.DefaultMaxThreads, c.MaxThreads)
	assert.Equal(t, slot.ReentryFatal, c.DefaultReentry)
	assert.NotNil(t, c.OnViolation)
}

func TestEngineLoggersAreIndependent(t *testing.T) {
	var a, b bytes.Buffer
	ea, _ := newEngine(t, Config{Logging: &logger.Options{Enabled: true, Level: slog.LevelDebug, Writer: &a}})
	eb, _ := newEngine(t, Config{Logging: &logger.Options{Enabled: true, Level: slog.LevelDebug, Writer: &b}})

	_, err := ea.Declare(1, nil, slot.Lazy, WithName("alpha"))
	require.NoError(t, err)
	_, err = eb.Declare(1, nil, slot.Lazy, WithName("beta"))
	require.NoError(t, err)

	assert.Contains(t, a.String(), "name=alpha")
	assert.NotContains(t, a.String(), "beta")
	assert.Contains(t, b.String(), "name=beta")
	assert.NotContains(t, b.String(), "alpha")
}

func TestWriteReport(t *testing.T) {
	v := &ContractViolation{
		Kind:       ForeignThreadAccess,
		Slot:       3,
		SlotName:   "counter",
		DeclSite:   sitedepot.Capture(0),
		Thread:     handle.New(2, 5),
		OwnerGoid:  10,
		CallerGoid: 11,
	}

	var buf bytes.Buffer
	WriteReport(&buf, v)
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "==================\nWARNING: THREAD-LOCAL STORAGE CONTRACT VIOLATION\n"))
	assert.Contains(t, out, "foreign thread access: slot counter(3) on thread 2#5 by goroutine 11, owner 10")
	assert.Contains(t, out, "Slot declared at:")
	assert.Contains(t, out, "TestWriteReport")
	assert.NotContains(t, out, "Thread started at:")
	assert.True(t, strings.HasSuffix(out, "==================\n"))
}

func TestViolationIs(t *testing.T) {
	v := &ContractViolation{Kind: DoubleExit, Thread: handle.New(0, 1)}
	assert.ErrorIs(t, v, ErrDoubleExit)
	assert.NotErrorIs(t, v, ErrUseAfterThreadExit)
	assert.Equal(t, "double thread exit: on thread 0#1", v.Error())

	for k := UseAfterThreadExit; k <= DoubleExit; k++ {
		assert.NotEqual(t, "unknown violation", k.String())
	}
	assert.Equal(t, "unknown violation", ViolationKind(0).String())
}
