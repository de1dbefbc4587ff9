package ui

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws the last width samples scaled to the largest of them.
// Short input is padded on the left.
func Sparkline(samples []float64, width int) string {
	if width <= 0 {
		return ""
	}
	window := make([]float64, width)
	if len(samples) >= width {
		copy(window, samples[len(samples)-width:])
	} else {
		copy(window[width-len(samples):], samples)
	}

	peak := 0.0
	for _, v := range window {
		peak = max(peak, v)
	}
	out := make([]rune, width)
	for i, v := range window {
		if peak <= 0 || v <= 0 {
			out[i] = sparkBlocks[0]
			continue
		}
		out[i] = sparkBlocks[min(int(v/peak*float64(len(sparkBlocks)-1)), len(sparkBlocks)-1)]
	}
	return string(out)
}
