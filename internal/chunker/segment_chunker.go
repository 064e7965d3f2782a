package chunker

import (
	"fmt"
	"sort"
	"strings"

	"meetrag/internal/domain"
)

const (
	// DefaultTimeWindow is the maximum span of a chunk in seconds.
	DefaultTimeWindow = 60.0
	// DefaultMaxTokens bounds the whitespace-delimited words in a chunk.
	DefaultMaxTokens = 512

	overlapSegments = 2
	unknownSpeaker  = "Unknown"
)

// SegmentChunker groups speaker-timestamped segments into bounded chunks with overlap.
type SegmentChunker struct {
	timeWindow float64
	maxTokens  int
}

func NewSegmentChunker(timeWindow float64, maxTokens int) *SegmentChunker {
	if timeWindow <= 0 {
		timeWindow = DefaultTimeWindow
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &SegmentChunker{timeWindow: timeWindow, maxTokens: maxTokens}
}

type pending struct {
	segments []domain.Segment
	tokens   int
}

func (p *pending) add(seg domain.Segment) {
	p.segments = append(p.segments, seg)
	p.tokens += countTokens(seg.Text)
}

func (p *pending) start() float64 { return p.segments[0].Start }

// Chunk splits segments into chunks. A segment that would push the chunk past
// the time window or the token budget starts the next chunk, which is seeded with
// up to two trailing segments of the previous one. The seed never includes the
// previous chunk's first segment, so every chunk starts later than the one before,
// and it only keeps overlap that fits the budgets together with the new segment.
func (c *SegmentChunker) Chunk(meetingID string, segments []domain.Segment) ([]domain.Chunk, error) {
	var kept []domain.Segment
	for i, seg := range segments {
		if err := seg.Validate(); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" {
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return []domain.Chunk{}, nil
	}

	var chunks []domain.Chunk
	seen := make(map[string]int)
	emit := func(p *pending) {
		ch := finalize(meetingID, p.segments)
		// Segments sharing a start time would collide; suffix keeps ids unique and deterministic.
		if n := seen[ch.ChunkID]; n > 0 {
			seen[ch.ChunkID] = n + 1
			ch.ChunkID = fmt.Sprintf("%s_%d", ch.ChunkID, n+1)
		} else {
			seen[ch.ChunkID] = 1
		}
		chunks = append(chunks, ch)
	}

	longest := 0.0
	for _, seg := range kept {
		longest = max(longest, seg.End-seg.Start)
	}

	cur := &pending{}
	for _, seg := range kept {
		if len(cur.segments) > 0 {
			span := seg.End - cur.start()
			if span > c.timeWindow || cur.tokens+countTokens(seg.Text) > c.maxTokens {
				emit(cur)
				cur = c.seed(cur.segments, seg, c.timeWindow+longest)
			}
		}
		cur.add(seg)
	}
	emit(cur)
	return chunks, nil
}

// seed carries the last two segments of the previous chunk into the next one.
// A leading overlap segment is dropped only when the seeded chunk would exceed
// maxSpan or hold more than maxTokens together with incoming.
func (c *SegmentChunker) seed(prev []domain.Segment, incoming domain.Segment, maxSpan float64) *pending {
	n := overlapSegments
	if n > len(prev)-1 {
		n = len(prev) - 1
	}
	overlap := prev[len(prev)-n:]
	for len(overlap) > 0 {
		tokens := countTokens(incoming.Text)
		for _, s := range overlap {
			tokens += countTokens(s.Text)
		}
		if incoming.End-overlap[0].Start <= maxSpan && tokens <= c.maxTokens {
			break
		}
		overlap = overlap[1:]
	}
	next := &pending{}
	for _, s := range overlap {
		next.add(s)
	}
	return next
}

func finalize(meetingID string, segs []domain.Segment) domain.Chunk {
	speakers := SpeakerMap(segs)
	lines := make([]string, len(segs))
	end := segs[0].End
	for i, s := range segs {
		label := unknownSpeaker
		if s.Speaker != "" {
			label = speakers[s.Speaker]
		}
		lines[i] = fmt.Sprintf("[%s] **%s**: %s", FormatTimestamp(s.Start), label, s.Text)
		if s.End > end {
			end = s.End
		}
	}
	start := segs[0].Start
	raw := make([]string, 0, len(speakers))
	for tag := range speakers {
		raw = append(raw, tag)
	}
	sort.Strings(raw)
	return domain.Chunk{
		ChunkID:      domain.ChunkID(meetingID, start),
		MeetingID:    meetingID,
		Text:         strings.Join(lines, "\n"),
		StartTime:    start,
		EndTime:      end,
		Duration:     end - start,
		Speakers:     raw,
		SegmentCount: len(segs),
		TimeRange:    FormatTimestamp(start) + " - " + FormatTimestamp(end),
	}
}

// SpeakerMap assigns "User 1..N" to the raw speaker tags in segs, enumerated in
// alphabetical order of the raw tag. Segments without a speaker are ignored.
func SpeakerMap(segs []domain.Segment) map[string]string {
	set := make(map[string]struct{})
	for _, s := range segs {
		if s.Speaker != "" {
			set[s.Speaker] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	out := make(map[string]string, len(tags))
	for i, t := range tags {
		out[t] = fmt.Sprintf("User %d", i+1)
	}
	return out
}

// FormatTimestamp renders seconds as zero-padded MM:SS; minutes are not wrapped into hours.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func countTokens(s string) int { return len(strings.Fields(s)) }
