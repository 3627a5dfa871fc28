package assets

import "bytes"

// sniffLen is how many leading bytes of a stream are inspected to pick a
// file extension.
const sniffLen = 12

// detectExtension picks a file extension from the first bytes of the stream.
// Unresolved formats fall back to a generic extension; detection never blocks
// or fails ingestion.
func detectExtension(kind Kind, header []byte) string {
	if kind == KindVideo {
		return ".mp4"
	}

	switch {
	case bytes.HasPrefix(header, []byte("\x89PNG")):
		return ".png"
	case bytes.HasPrefix(header, []byte("GIF")):
		return ".gif"
	case bytes.HasPrefix(header, []byte("RIFF")) && len(header) >= 12 && bytes.Equal(header[8:12], []byte("WEBP")):
		return ".webp"
	case bytes.HasPrefix(header, []byte("\xff\xd8")):
		return ".jpg"
	case len(header) == 0:
		return ".dat"
	default:
		// Unknown image payloads are overwhelmingly JPEG in practice.
		return ".jpg"
	}
}
