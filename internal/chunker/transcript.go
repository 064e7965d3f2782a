package chunker

import (
	"fmt"
	"strings"

	"meetrag/internal/domain"
)

// FormatTranscript renders the whole meeting with one line per segment. Speaker
// names are assigned once for the whole meeting, unlike chunk text where the
// mapping is local to each chunk.
func FormatTranscript(segments []domain.Segment) string {
	speakers := SpeakerMap(segments)
	var b strings.Builder
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		label := unknownSpeaker
		if s.Speaker != "" {
			label = speakers[s.Speaker]
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] **%s**: %s", FormatTimestamp(s.Start), label, text)
	}
	return b.String()
}
