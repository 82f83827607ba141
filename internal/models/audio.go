package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type AudioTask string

const (
	AudioTaskTranscribe AudioTask = "transcribe"
	AudioTaskTranslate  AudioTask = "translate"
)

// RecognitionRequest is one model invocation against a readable audio file.
type RecognitionRequest struct {
	Task        AudioTask
	Path        string
	Model       string
	Language    string
	Prompt      string
	Temperature *float32
}

// Segment is a timestamped span of recognized speech. Times are seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

type segmentWire struct {
	Timestamp [2]float64 `json:"timestamp"`
	Text      string     `json:"text"`
}

// MarshalJSON renders the segment as {"timestamp":[start,end],"text":...}.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentWire{Timestamp: [2]float64{s.Start, s.End}, Text: s.Text})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var wire segmentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode segment: %w", err)
	}
	s.Start, s.End, s.Text = wire.Timestamp[0], wire.Timestamp[1], wire.Text
	return nil
}

// RecognitionPass is the raw output of one model invocation.
type RecognitionPass struct {
	Task     AudioTask
	Text     string
	Language string
	Duration float64
	Segments []Segment
}

// Transcript is the trimmed, caller-facing form of a pass.
type Transcript struct {
	Text   string    `json:"text"`
	Chunks []Segment `json:"chunks"`
}

// TranscriptionResult holds the native transcription and, when it differs, the
// English translation. Translation is omitted from JSON when nil.
type TranscriptionResult struct {
	Transcription Transcript  `json:"transcription"`
	Translation   *Transcript `json:"translation,omitempty"`
}

// NewTranscript trims the pass text and copies its segments, ordered by start
// time, into a non-nil slice.
func NewTranscript(pass RecognitionPass) Transcript {
	chunks := make([]Segment, len(pass.Segments))
	copy(chunks, pass.Segments)
	SortSegments(chunks)
	return Transcript{Text: strings.TrimSpace(pass.Text), Chunks: chunks}
}

// SortSegments orders segments by start time, keeping backend order for ties.
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
}
