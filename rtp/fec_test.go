package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFECEncoder_ZeroPercentageNeverProtects(t *testing.T) {
	e := NewFECEncoder(FECConfig{PayloadType: 127, Percentage: 0})
	for i := 0; i < 20; i++ {
		assert.False(t, e.ShouldProtect())
	}
}

func TestFECEncoder_FullPercentageProtectsEveryPacket(t *testing.T) {
	e := NewFECEncoder(FECConfig{PayloadType: 127, Percentage: 100})
	for i := 0; i < 5; i++ {
		assert.True(t, e.ShouldProtect())
	}
}

func TestFECEncoder_HalfPercentageProtectsEveryOther(t *testing.T) {
	e := NewFECEncoder(FECConfig{PayloadType: 127, Percentage: 50})
	assert.False(t, e.ShouldProtect())
	assert.True(t, e.ShouldProtect())
	assert.False(t, e.ShouldProtect())
	assert.True(t, e.ShouldProtect())
}

func TestFECDecoder_IsFECMatchesConfiguredPT(t *testing.T) {
	d := NewFECDecoderFromCaps(127)
	assert.True(t, d.IsFEC(127))
	assert.False(t, d.IsFEC(96))
}
