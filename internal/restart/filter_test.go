package restart

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var script = []string{
	"units real",
	"read_data system.data",
	"velocity all create 300.0 4928459",
	"# ---- #RESTART ----",
	"fix ssages all ssages",
	"run 1000",
}

func TestLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		lines  []string
		resume bool
		want   []string
	}{
		{"fresh run keeps everything", script, false, script},
		{"resume skips setup", script, true, script[3:]},
		{"resume without marker keeps everything", []string{"a", "b"}, true, []string{"a", "b"}},
		{"marker on first line", []string{"#RESTART", "x"}, true, []string{"#RESTART", "x"}},
		{"second marker passes", []string{"a", "#RESTART 1", "b", "#RESTART 2", "c"}, true, []string{"#RESTART 1", "b", "#RESTART 2", "c"}},
		{"empty script", nil, true, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Lines(tt.lines, tt.resume)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Lines mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilterStates(t *testing.T) {
	t.Parallel()
	f := NewFilter(true, script)
	assert.Equal(t, SkippingRestartSection, f.State())

	assert.False(t, f.Accept(script[0]))
	assert.False(t, f.Accept(script[1]))
	assert.Equal(t, 2, f.Skipped())

	assert.True(t, f.Accept(script[3]))
	assert.Equal(t, Normal, f.State())
	assert.True(t, f.Accept("anything"))

	assert.Equal(t, Normal, NewFilter(false, script).State())
	assert.Equal(t, "SkippingRestartSection", SkippingRestartSection.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestReplay(t *testing.T) {
	t.Parallel()
	var ran []string
	err := Replay(strings.NewReader(strings.Join(script, "\n")), true, func(line string) error {
		ran = append(ran, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, script[3:], ran)
}

func TestReplay_ExecError(t *testing.T) {
	t.Parallel()
	boom := errors.New("unknown command")
	calls := 0
	err := Replay(strings.NewReader(strings.Join(script, "\n")), false, func(line string) error {
		calls++
		if strings.HasPrefix(line, "velocity") {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "line 3")
	assert.Equal(t, 3, calls)
}
