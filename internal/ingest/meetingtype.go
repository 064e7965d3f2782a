package ingest

import (
	"strings"

	"meetrag/internal/domain"
)

// MeetingTypeAuto asks the pipeline to guess the type from the transcript.
const MeetingTypeAuto = "auto"

// typeKeywords are matched as lowercase substrings. English and Vietnamese
// cues are listed together.
var typeKeywords = []struct {
	meetingType string
	keywords    []string
}{
	{domain.MeetingTypeMeeting, []string{
		"meeting", "agenda", "action item", "decision", "discuss", "update", "status", "progress", "review",
		"cuộc họp", "chương trình", "nhiệm vụ", "quyết định", "thảo luận",
	}},
	{domain.MeetingTypeWorkshop, []string{
		"workshop", "exercise", "activity", "hands-on", "lab", "demo",
		"hội thảo", "bài tập", "thực hành",
	}},
	{domain.MeetingTypeBrainstorm, []string{
		"brainstorm", "idea", "suggest", "propose", "creative", "innovation", "concept", "vote", "prioritize",
		"động não", "ý tưởng", "đề xuất", "sáng tạo", "bỏ phiếu",
	}},
	{domain.MeetingTypeTraining, []string{
		"training", "tutorial", "learning", "lesson", "practice", "course",
		"đào tạo", "bài học", "khóa học",
	}},
	{domain.MeetingTypeInterview, []string{
		"interview", "candidate", "resume", "your experience", "tell me about yourself", "salary",
		"phỏng vấn", "ứng viên", "kinh nghiệm",
	}},
	{domain.MeetingTypePresentation, []string{
		"presentation", "slide", "next slide", "audience", "questions at the end",
		"thuyết trình", "trang chiếu",
	}},
}

// DetectMeetingType scores each type by how many of its keywords occur in the
// transcript. Ties go to the earlier entry, and no match means a plain meeting.
func DetectMeetingType(transcript string) string {
	text := strings.ToLower(transcript)
	best, bestScore := domain.MeetingTypeMeeting, 0
	for _, tk := range typeKeywords {
		score := 0
		for _, kw := range tk.keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = tk.meetingType, score
		}
	}
	return best
}

// resolveMeetingType validates a requested type, detecting it when the request
// is empty or auto.
func resolveMeetingType(requested, transcript string) (string, error) {
	switch t := strings.ToLower(strings.TrimSpace(requested)); {
	case t == "" || t == MeetingTypeAuto:
		return DetectMeetingType(transcript), nil
	case t == "brainstorming":
		return domain.MeetingTypeBrainstorm, nil
	case domain.ValidMeetingType(t):
		return t, nil
	default:
		return "", domain.Validationf("unknown meeting type %q", requested)
	}
}
