package visualizer

// hsvToRGB converts hue/saturation/value (each 0..255) to RGB with the
// integer sextant math the strip firmware uses.
func hsvToRGB(h, s, v uint8) (r, g, b uint8) {
	if s == 0 {
		return v, v, v
	}
	region := h / 43
	remainder := uint16(h-region*43) * 6

	p := uint8(uint16(v) * (255 - uint16(s)) >> 8)
	q := uint8(uint16(v) * (255 - uint16(s)*remainder>>8) >> 8)
	t := uint8(uint16(v) * (255 - uint16(s)*(255-remainder)>>8) >> 8)

	switch region {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

// addClamped is a saturating byte add, the additive blend the firmware's
// pixel type performs.
func addClamped(a, b uint8) uint8 {
	sum := uint16(a) + uint16(b)
	if sum > 255 {
		return 255
	}
	return uint8(sum)
}

// scale8 scales x by (b+1)/256, the strip brightness law. scale8(255, b)
// lands exactly on b.
func scale8(x, b uint8) uint8 {
	return uint8(uint16(x) * (uint16(b) + 1) >> 8)
}
