package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec   string
		mode   Mode
		metric string
		best   float64
	}{
		{"off", Off, "", 0},
		{"", Off, "", 0},
		{"min val_loss", Min, "val_loss", math.Inf(1)},
		{"max  val_accuracy", Max, "val_accuracy", math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			m, err := Parse(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, m.Mode)
			assert.Equal(t, tt.metric, m.Metric)
			assert.Equal(t, tt.best, m.Best)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, spec := range []string{"avg val_loss", "min", "min val_loss extra", "on"} {
		_, err := Parse(spec)
		assert.Error(t, err, spec)
	}
}

func TestImprovedMin(t *testing.T) {
	m, err := Parse("min val_loss")
	require.NoError(t, err)

	assert.True(t, m.Improved(1.0))
	m.Best = 1.0
	assert.True(t, m.Improved(1.0), "ties count as improvement")
	assert.True(t, m.Improved(0.5))
	assert.False(t, m.Improved(1.5))
}

func TestImprovedMax(t *testing.T) {
	m, err := Parse("max val_accuracy")
	require.NoError(t, err)

	m.Best = 0.8
	assert.True(t, m.Improved(0.8))
	assert.True(t, m.Improved(0.9))
	assert.False(t, m.Improved(0.7))
}

func TestDisable(t *testing.T) {
	m, err := Parse("max val_accuracy")
	require.NoError(t, err)
	m.Best = 0.5

	m.Disable()
	assert.False(t, m.Enabled())
	assert.False(t, m.Improved(1.0))
	assert.Equal(t, 0.5, m.Best)
	assert.Equal(t, "off", m.String())
}
