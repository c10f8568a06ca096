package whispernative

import "encoding/binary"

// samplesFromPCM reinterprets little-endian s16 PCM bytes as float32 samples
// scaled into [-1, 1), the input format whisper.cpp inference expects. A
// trailing half-sample byte is dropped.
func samplesFromPCM(pcm []byte) []float32 {
	out := make([]float32, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		out = append(out, float32(s)/(1<<15))
	}
	return out
}
