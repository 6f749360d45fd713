package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_LinearMoveWithAxesAndFeedrate(t *testing.T) {
	l, err := ParseLine("G1 X10 Y-5.5 F600")
	require.NoError(t, err)
	assert.Equal(t, KindLinear, l.Kind)
	assert.True(t, l.HasAxis[0])
	assert.Equal(t, 10.0, l.Axes[0])
	assert.True(t, l.HasAxis[1])
	assert.Equal(t, -5.5, l.Axes[1])
	assert.True(t, l.HasFeedrate)
	assert.Equal(t, 600.0, l.Feedrate)
}

func TestParseLine_CommentsStripped(t *testing.T) {
	l, err := ParseLine("G0 X1 (rapid move) ; trailing comment")
	require.NoError(t, err)
	assert.Equal(t, KindRapid, l.Kind)
	assert.Equal(t, 1.0, l.Axes[0])
}

func TestParseLine_BlankLineIsComment(t *testing.T) {
	l, err := ParseLine("   ")
	require.NoError(t, err)
	assert.Equal(t, KindComment, l.Kind)
}

func TestParseLine_ArcWithIJOffsets(t *testing.T) {
	l, err := ParseLine("G2 X10 Y0 I5 J0")
	require.NoError(t, err)
	assert.Equal(t, KindArcCW, l.Kind)
	assert.True(t, l.HasI)
	assert.Equal(t, 5.0, l.I)
}

func TestParseLine_ProgramEndVariants(t *testing.T) {
	for _, raw := range []string{"M2", "M30"} {
		l, err := ParseLine(raw)
		require.NoError(t, err)
		assert.Equal(t, KindProgramEnd, l.Kind)
	}
}

func TestParseLine_UnsupportedWordErrors(t *testing.T) {
	_, err := ParseLine("G1 Q5")
	assert.Error(t, err)
}

func TestParseLine_ModalAxisOnlyLineReportsComment(t *testing.T) {
	l, err := ParseLine("X5 Y5")
	require.NoError(t, err)
	assert.Equal(t, KindComment, l.Kind)
	assert.True(t, l.HasAxis[0])
}
