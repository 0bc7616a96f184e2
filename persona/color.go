package persona

import (
	"fmt"
	"math"
)

// Color maps a name to a stable "#RRGGBB" color: the name hash picks the hue,
// saturation and brightness are fixed at 0.7 and 0.8.
func Color(name string) string {
	hash := int64(javaHash(name))
	if hash < 0 {
		hash = -hash
	}
	hue := float64(hash%360) / 360.0
	r, g, b := hsbToRGB(hue, 0.7, 0.8)
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

// javaHash is the 31-multiplier string hash with int32 overflow, which keeps
// colors identical to those already stored by existing deployments.
func javaHash(s string) int32 {
	var h int32
	for _, c := range s {
		if c > 0xFFFF {
			// surrogate pair, as UTF-16 would see it
			c -= 0x10000
			h = 31*h + int32(0xD800+(c>>10))
			h = 31*h + int32(0xDC00+(c&0x3FF))
			continue
		}
		h = 31*h + int32(c)
	}
	return h
}

func hsbToRGB(hue, saturation, brightness float64) (int, int, int) {
	if saturation == 0 {
		v := int(brightness*255 + 0.5)
		return v, v, v
	}
	h := (hue - math.Floor(hue)) * 6
	f := h - math.Floor(h)
	p := brightness * (1 - saturation)
	q := brightness * (1 - saturation*f)
	t := brightness * (1 - saturation*(1-f))

	var r, g, b float64
	switch int(h) {
	case 0:
		r, g, b = brightness, t, p
	case 1:
		r, g, b = q, brightness, p
	case 2:
		r, g, b = p, brightness, t
	case 3:
		r, g, b = p, q, brightness
	case 4:
		r, g, b = t, p, brightness
	default:
		r, g, b = brightness, p, q
	}
	return int(r*255 + 0.5), int(g*255 + 0.5), int(b*255 + 0.5)
}
