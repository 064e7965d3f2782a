// Package domain holds the meeting knowledge types shared by every component.
package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SourceKind tells whether a meeting came from audio or a text document.
type SourceKind string

const (
	SourceAudio SourceKind = "audio"
	SourceText  SourceKind = "text"
)

// AudioExtensions lists the audio containers accepted for transcription.
var AudioExtensions = []string{".wav", ".mp3", ".m4a", ".webm", ".mp4", ".mpeg", ".mpga", ".ogg", ".flac"}

// IsAudioFile reports whether name has one of AudioExtensions.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range AudioExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a MeetingRecord.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnalyzed Status = "analyzed"
	StatusFailed   Status = "failed"
)

// Supported meeting types.
const (
	MeetingTypeMeeting      = "meeting"
	MeetingTypeInterview    = "interview"
	MeetingTypePresentation = "presentation"
	MeetingTypeBrainstorm   = "brainstorm"
	MeetingTypeTraining     = "training"
	MeetingTypeWorkshop     = "workshop"
)

// MeetingTypes lists every accepted meeting type in display order.
var MeetingTypes = []string{
	MeetingTypeMeeting,
	MeetingTypeInterview,
	MeetingTypePresentation,
	MeetingTypeBrainstorm,
	MeetingTypeTraining,
	MeetingTypeWorkshop,
}

// ValidMeetingType reports whether t is one of MeetingTypes.
func ValidMeetingType(t string) bool {
	for _, mt := range MeetingTypes {
		if mt == t {
			return true
		}
	}
	return false
}

// Segment is a timestamped utterance produced by transcription.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Validate rejects negative times and segments that end before they start.
func (s Segment) Validate() error {
	if s.Start < 0 || s.End < 0 {
		return Validationf("segment has negative time (start=%.2f end=%.2f)", s.Start, s.End)
	}
	if s.End < s.Start {
		return Validationf("segment ends before it starts (start=%.2f end=%.2f)", s.Start, s.End)
	}
	return nil
}

// Chunk is a bounded, overlapping group of segments used as the retrieval unit.
type Chunk struct {
	ChunkID      string   `json:"chunk_id"`
	MeetingID    string   `json:"meeting_id"`
	Text         string   `json:"text"`
	StartTime    float64  `json:"start_time"`
	EndTime      float64  `json:"end_time"`
	Duration     float64  `json:"duration"`
	Speakers     []string `json:"speakers"`
	SegmentCount int      `json:"segment_count"`
	TimeRange    string   `json:"time_range"`
}

// ChunkID derives the stable chunk identifier from its meeting and start time.
func ChunkID(meetingID string, startTime float64) string {
	return fmt.Sprintf("%s_chunk_%.1f", meetingID, startTime)
}

// Source records where a meeting came from.
type Source struct {
	Kind         SourceKind `json:"kind"`
	OriginalFile string     `json:"original_file"`
}

// Topic is a theme discussed in a meeting.
type Topic struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

// ActionItem is a task assigned during a meeting.
type ActionItem struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee"`
	Deadline string `json:"deadline"`
}

// Decision is an agreed outcome of a meeting.
type Decision struct {
	Decision string `json:"decision"`
	Context  string `json:"context"`
}

// Analysis is the structured LLM output for a meeting.
type Analysis struct {
	Summary      string       `json:"summary"`
	Topics       []Topic      `json:"topics"`
	ActionItems  []ActionItem `json:"action_items"`
	Decisions    []Decision   `json:"decisions"`
	Participants []string     `json:"participants"`
}

// MeetingRecord is the authoritative per-meeting document.
type MeetingRecord struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Source        Source    `json:"source"`
	Language      string    `json:"language"`
	MeetingType   string    `json:"meeting_type"`
	Title         string    `json:"title,omitempty"`
	Transcript    string    `json:"transcript"`
	Segments      []Segment `json:"segments,omitempty"`
	Analysis      Analysis  `json:"analysis"`
	ChunkIDs      []string  `json:"chunk_ids"`
	Status        Status    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (r *MeetingRecord) Clone() *MeetingRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ChunkIDs = append([]string(nil), r.ChunkIDs...)
	c.Segments = append([]Segment(nil), r.Segments...)
	c.Analysis.Topics = append([]Topic(nil), r.Analysis.Topics...)
	c.Analysis.ActionItems = append([]ActionItem(nil), r.Analysis.ActionItems...)
	c.Analysis.Decisions = append([]Decision(nil), r.Analysis.Decisions...)
	c.Analysis.Participants = append([]string(nil), r.Analysis.Participants...)
	return &c
}

// SearchResult is a ranked chunk returned by retrieval.
type SearchResult struct {
	MeetingID string         `json:"meeting_id"`
	ChunkID   string         `json:"chunk_id"`
	Snippet   string         `json:"snippet"`
	Text      string         `json:"-"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata"`
}
