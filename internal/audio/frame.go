package audio

// SliceFrames cuts an audio buffer into fixed-size frames for paced transport
// delivery. The final partial frame, if any, is zero-padded to full length so
// the transport never sees a short chunk.
func SliceFrames(buf []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(buf) == 0 {
		return nil
	}
	n := (len(buf) + frameBytes - 1) / frameBytes
	frames := make([][]byte, 0, n)
	for off := 0; off < len(buf); off += frameBytes {
		end := off + frameBytes
		if end <= len(buf) {
			frames = append(frames, buf[off:end])
			continue
		}
		tail := make([]byte, frameBytes)
		copy(tail, buf[off:])
		frames = append(frames, tail)
	}
	return frames
}
