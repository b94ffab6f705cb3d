package audio

// Float32ToPCM16 converts floating-point samples to little-endian 16-bit
// PCM, clamping to [-1, 1]. Negative samples scale by 0x8000 and positive
// by 0x7FFF so full-scale input maps onto the full int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}
