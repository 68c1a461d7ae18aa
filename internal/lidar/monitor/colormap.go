package monitor

import "fmt"

// HotColor maps an intensity onto the black -> red -> yellow -> white "hot"
// colormap. Components are in [0, 1].
func HotColor(intensity uint8) (r, g, b float64) {
	t := float64(intensity) / 255
	switch {
	case t < 0.33:
		return t * 3, 0, 0
	case t < 0.66:
		return 1, (t - 0.33) * 3, 0
	default:
		return 1, 1, min((t-0.66)*3, 1)
	}
}

// HotColorHex returns HotColor as a CSS #rrggbb string.
func HotColorHex(intensity uint8) string {
	r, g, b := HotColor(intensity)
	return fmt.Sprintf("#%02x%02x%02x", channel(r), channel(g), channel(b))
}

func channel(v float64) uint8 {
	return uint8(max(0, min(v, 1))*255 + 0.5)
}

// hotPalette samples the colormap for echarts visual maps.
func hotPalette(steps int) []string {
	out := make([]string, steps)
	for i := range out {
		out[i] = HotColorHex(uint8(i * 255 / (steps - 1)))
	}
	return out
}
