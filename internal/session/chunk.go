package session

import "strings"

// chunkReply splits agent text into sentence-like chunks so synthesis can
// start on the first sentence while later ones are still pending, and so the
// transcript records only what was actually spoken before a barge-in.
// Splits on '.', '?', '!' and newlines, retaining punctuation.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			if chunk := strings.TrimSpace(b.String()); chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		case '\n', '\r':
			if chunk := strings.TrimSpace(b.String()); chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if tail := strings.TrimSpace(b.String()); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}
