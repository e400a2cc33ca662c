package visualizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHSVToRGBPrimaries(t *testing.T) {
	assert := assert.New(t)

	r, g, b := hsvToRGB(0, 255, 255)
	assert.Equal([3]uint8{255, 0, 0}, [3]uint8{r, g, b}, "hue 0 is red")

	r, g, b = hsvToRGB(85, 255, 255)
	assert.Equal(uint8(255), g, "hue 85 is green")
	assert.Less(r, uint8(8))
	assert.Zero(b)

	r, g, b = hsvToRGB(171, 255, 255)
	assert.Equal(uint8(255), b, "hue 171 is blue")
	assert.Zero(r)
	assert.Less(g, uint8(8))
}

func TestHSVToRGBZeroSaturationIsGray(t *testing.T) {
	assert := assert.New(t)
	for _, hue := range []uint8{0, 50, 120, 200, 255} {
		r, g, b := hsvToRGB(hue, 0, 77)
		assert.Equal(r, g)
		assert.Equal(g, b)
	}
}

func TestHSVToRGBZeroValueIsBlack(t *testing.T) {
	assert := assert.New(t)
	for hue := 0; hue < 256; hue += 7 {
		r, g, b := hsvToRGB(uint8(hue), 255, 0)
		assert.Zero(r)
		assert.Zero(g)
		assert.Zero(b)
	}
}

func TestScale8(t *testing.T) {
	assert := assert.New(t)

	// Full input lands exactly on the scale factor.
	assert.Equal(uint8(150), scale8(255, 150))
	assert.Equal(uint8(255), scale8(255, 255))
	assert.Equal(uint8(128), scale8(128, 255))
	assert.Equal(uint8(0), scale8(0, 150))
	assert.Equal(uint8(0), scale8(100, 0))
}

func TestAddClamped(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint8(30), addClamped(10, 20))
	assert.Equal(uint8(255), addClamped(200, 100))
	assert.Equal(uint8(255), addClamped(255, 255))
	assert.Equal(uint8(0), addClamped(0, 0))
}
