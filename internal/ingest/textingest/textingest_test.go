package textingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrag/internal/domain"
)

func TestSegments_Paragraphs(t *testing.T) {
	segs, err := Segments("notes.txt", []byte("Hello.\n\nWorld."))
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "Hello.", segs[0].Text)
	assert.Equal(t, "World.", segs[1].Text)
	assert.Empty(t, segs[0].Speaker)
	assert.GreaterOrEqual(t, segs[1].Start-segs[0].Start, 1.0)
	assert.Equal(t, segs[0].End, segs[1].Start)
}

func TestSegments_LinesWhenNoBlankLines(t *testing.T) {
	segs, err := Segments("notes.md", []byte("first line\nsecond line\n"))
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "second line", segs[1].Text)
}

func TestSegments_LongParagraphTakesLonger(t *testing.T) {
	segs, err := Segments("a.txt", []byte("one two three four five six seven eight nine ten\n\nshort"))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, segs[0].End-segs[0].Start, 1e-9)
	assert.InDelta(t, 1.0, segs[1].End-segs[1].Start, 1e-9)
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{name: "plain", data: []byte("xin chào"), want: "xin chào"},
		{name: "utf8 bom stripped", data: append([]byte{0xEF, 0xBB, 0xBF}, []byte("hi")...), want: "hi"},
		{name: "utf16le bom", data: []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, want: "hi"},
		{name: "binary", data: []byte{0x89, 'P', 'N', 'G', 0, 0, 1}, wantErr: true},
		{name: "latin1", data: []byte{'c', 'a', 'f', 0xE9}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsKind(err, domain.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSegments_Rejections(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
	}{
		{name: "empty", file: "a.txt", data: nil},
		{name: "whitespace only", file: "a.txt", data: []byte(" \n\n \t")},
		{name: "unsupported", file: "a.exe", data: []byte("MZ")},
		{name: "broken docx", file: "a.docx", data: []byte("not a zip")},
		{name: "broken pdf", file: "a.pdf", data: []byte("not a pdf")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Segments(tt.file, tt.data)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindValidation))
		})
	}
}

func TestSegments_SRT(t *testing.T) {
	srt := "1\r\n00:00:01,000 --> 00:00:04,500\r\nGood morning everyone.\r\n\r\n2\r\n00:01:05,250 --> 00:01:07,000\r\nLet's <i>start</i>.\r\nFirst item.\r\n"
	segs, err := Segments("call.srt", []byte(srt))
	require.NoError(t, err)
	assert.Equal(t, []domain.Segment{
		{Start: 1, End: 4.5, Text: "Good morning everyone."},
		{Start: 65.25, End: 67, Text: "Let's start. First item."},
	}, segs)
}

func TestSegments_VTTVoices(t *testing.T) {
	vtt := "WEBVTT\n\n00:05.000 --> 00:07.000\n<v Alice>Ship it</v>\n\n01:00:00.000 --> 01:00:02.000\n<v.loud Bob>Agreed\n"
	segs, err := Segments("call.vtt", []byte(vtt))
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, domain.Segment{Start: 5, End: 7, Text: "Ship it", Speaker: "Alice"}, segs[0])
	assert.Equal(t, "Bob", segs[1].Speaker)
	assert.Equal(t, 3600.0, segs[1].Start)
}

func TestSegments_CueEndsBeforeStart(t *testing.T) {
	_, err := Segments("bad.srt", []byte("1\n00:00:05,000 --> 00:00:01,000\ntext\n"))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("Minutes.DOCX"))
	assert.False(t, IsSupported("audio.wav"))
}
