// Package textingest turns text documents into pseudo-segments the chunker can
// consume. Plain text and converted documents get synthetic timestamps;
// subtitle files keep their cue times.
package textingest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gonfva/docxlib"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"meetrag/internal/domain"
)

// SupportedExtensions lists the document types Segments accepts.
var SupportedExtensions = []string{".txt", ".md", ".pdf", ".docx", ".srt", ".vtt"}

const (
	// secondsPerWord approximates 150 spoken words per minute.
	secondsPerWord = 0.4
	minSegmentSecs = 1.0
)

// IsSupported reports whether name has a document extension Segments accepts.
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Segments decodes data according to the extension of name.
func Segments(name string, data []byte) ([]domain.Segment, error) {
	if len(data) == 0 {
		return nil, domain.Validationf("%s is empty", name)
	}
	var (
		segs []domain.Segment
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".txt", ".md":
		var text string
		if text, err = DecodeText(data); err == nil {
			segs = Paragraphs(text)
		}
	case ".srt", ".vtt":
		var text string
		if text, err = DecodeText(data); err == nil {
			segs, err = parseCues(text)
		}
	case ".pdf":
		var text string
		if text, err = pdfText(data); err == nil {
			segs = Paragraphs(text)
		}
	case ".docx":
		var paras []string
		if paras, err = docxParagraphs(data); err == nil {
			segs = timed(paras)
		}
	default:
		return nil, domain.Validationf("unsupported document type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, domain.Validationf("%s contains no text", name)
	}
	return segs, nil
}

// DecodeText decodes UTF-8 text, dropping a leading byte order mark. UTF-16
// input with a BOM is converted. Binary or non-UTF-8 data is rejected.
func DecodeText(data []byte) (string, error) {
	utf16 := bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF})
	if !utf16 && (bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data)) {
		return "", domain.Validationf("content is binary or not UTF-8 text")
	}
	r := transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	out, err := io.ReadAll(r)
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, err, "decode text")
	}
	return string(out), nil
}

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// Paragraphs splits text on blank lines into segments spaced at least one
// second apart. A single block of several lines is split per line instead.
func Paragraphs(text string) []domain.Segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	blocks := blankLine.Split(text, -1)
	if len(blocks) == 1 {
		blocks = strings.Split(text, "\n")
	}
	var paras []string
	for _, b := range blocks {
		b = strings.Join(strings.Fields(b), " ")
		if b != "" {
			paras = append(paras, b)
		}
	}
	return timed(paras)
}

func timed(paras []string) []domain.Segment {
	segs := make([]domain.Segment, 0, len(paras))
	cursor := 0.0
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		dur := max(minSegmentSecs, float64(len(strings.Fields(p)))*secondsPerWord)
		segs = append(segs, domain.Segment{Start: cursor, End: cursor + dur, Text: p})
		cursor += dur
	}
	return segs
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.Wrap(domain.KindValidation, err, "parse pdf")
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func docxParagraphs(data []byte) ([]string, error) {
	doc, err := docxlib.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, err, "parse docx")
	}
	var out []string
	for _, paragraph := range doc.Paragraphs() {
		var sb strings.Builder
		for _, child := range paragraph.Children() {
			if child.Run != nil && child.Run.Text != nil {
				sb.WriteString(child.Run.Text.Text)
			}
			if child.Link != nil && child.Link.Run.Text != nil {
				sb.WriteString(child.Link.Run.Text.Text)
			}
		}
		if p := strings.Join(strings.Fields(sb.String()), " "); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

var (
	cueTiming = regexp.MustCompile(`^(\d{1,2}:)?(\d{1,2}):(\d{2})[.,](\d{3})\s+-->\s+(\d{1,2}:)?(\d{1,2}):(\d{2})[.,](\d{3})`)
	voiceTag  = regexp.MustCompile(`^<v(?:\.[^ >]+)?\s+([^>]+)>`)
	markup    = regexp.MustCompile(`</?[^>]+>`)
)

// parseCues reads SRT or WebVTT cues. A WebVTT voice tag becomes the speaker.
func parseCues(text string) ([]domain.Segment, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var segs []domain.Segment
	for i := 0; i < len(lines); i++ {
		m := cueTiming.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		start := cueSeconds(m[1], m[2], m[3], m[4])
		end := cueSeconds(m[5], m[6], m[7], m[8])
		var body []string
		speaker := ""
		for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
			i++
			line := strings.TrimSpace(lines[i])
			if v := voiceTag.FindStringSubmatch(line); v != nil && speaker == "" {
				speaker = strings.TrimSpace(v[1])
			}
			body = append(body, markup.ReplaceAllString(line, ""))
		}
		seg := domain.Segment{Start: start, End: end, Text: strings.TrimSpace(strings.Join(body, " ")), Speaker: speaker}
		if seg.Text == "" {
			continue
		}
		if err := seg.Validate(); err != nil {
			return nil, fmt.Errorf("cue at %s: %w", m[0], err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func cueSeconds(h, m, s, ms string) float64 {
	atoi := func(v string) int {
		n, _ := strconv.Atoi(strings.TrimSuffix(v, ":"))
		return n
	}
	return float64(atoi(h)*3600+atoi(m)*60+atoi(s)) + float64(atoi(ms))/1000
}
