package syncqueue

import "github.com/harunnryd/livecore/pkg/errorsx"

// Kind tags a record.
type Kind string

const (
	KindUtterance      Kind = "utterance"
	KindTranscript     Kind = "transcript"
	KindSpeakerSegment Kind = "speaker_segment"
	KindStateSnapshot  Kind = "state_snapshot"
)

// Record is one item produced by the UI. The set is closed: only the four
// kinds below are accepted. Pointers to them may be enqueued; the queue keeps
// a copy of the value.
type Record interface {
	RecordKind() Kind
	syncRecord()
}

// Utterance is one spoken turn.
type Utterance struct {
	ID          string  `json:"id,omitempty"`
	Speaker     string  `json:"speaker"`
	Text        string  `json:"text"`
	TimestampMS int64   `json:"timestamp_ms"`
	DurationMS  int64   `json:"duration_ms,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

func (Utterance) RecordKind() Kind { return KindUtterance }
func (Utterance) syncRecord()      {}

// Transcript is a committed piece of recognized text.
type Transcript struct {
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
	Provider    string `json:"provider,omitempty"`
	TimestampMS int64  `json:"timestamp_ms"`
}

func (Transcript) RecordKind() Kind { return KindTranscript }
func (Transcript) syncRecord()      {}

// SpeakerSegment marks who was speaking over a time range.
type SpeakerSegment struct {
	Speaker string `json:"speaker"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

func (SpeakerSegment) RecordKind() Kind { return KindSpeakerSegment }
func (SpeakerSegment) syncRecord()      {}

// StateSnapshot captures UI or behavior state at a point in time.
type StateSnapshot struct {
	State       map[string]any `json:"state"`
	TimestampMS int64          `json:"timestamp_ms"`
}

func (StateSnapshot) RecordKind() Kind { return KindStateSnapshot }
func (StateSnapshot) syncRecord()      {}

// SyncRequest is the body of a sync call: one optional array per kind, each
// in enqueue order.
type SyncRequest struct {
	Utterances      []Utterance      `json:"utterances,omitempty"`
	Transcripts     []Transcript     `json:"transcripts,omitempty"`
	SpeakerSegments []SpeakerSegment `json:"speaker_segments,omitempty"`
	StateSnapshots  []StateSnapshot  `json:"state_snapshots,omitempty"`
}

// normalize dereferences pointer records. Nil records are rejected so a
// flush never meets one.
func normalize(rec Record) (Record, error) {
	switch v := rec.(type) {
	case Utterance, Transcript, SpeakerSegment, StateSnapshot:
		return v, nil
	case *Utterance:
		if v != nil {
			return *v, nil
		}
	case *Transcript:
		if v != nil {
			return *v, nil
		}
	case *SpeakerSegment:
		if v != nil {
			return *v, nil
		}
	case *StateSnapshot:
		if v != nil {
			return *v, nil
		}
	}
	return nil, errorsx.Errorf(errorsx.ReasonConfig, "unsupported sync record %T", rec)
}

// BuildRequest groups records by kind in enqueue order.
func BuildRequest(records []Record) SyncRequest {
	var req SyncRequest
	for _, r := range records {
		r, err := normalize(r)
		if err != nil {
			continue
		}
		switch v := r.(type) {
		case Utterance:
			req.Utterances = append(req.Utterances, v)
		case Transcript:
			req.Transcripts = append(req.Transcripts, v)
		case SpeakerSegment:
			req.SpeakerSegments = append(req.SpeakerSegments, v)
		case StateSnapshot:
			req.StateSnapshots = append(req.StateSnapshots, v)
		}
	}
	return req
}

// Len is the number of records carried by the request.
func (r SyncRequest) Len() int {
	return len(r.Utterances) + len(r.Transcripts) + len(r.SpeakerSegments) + len(r.StateSnapshots)
}
