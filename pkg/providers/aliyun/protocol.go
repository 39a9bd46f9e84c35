package aliyun

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/harunnryd/livecore/pkg/audio"
)

// Namespace of every control message.
const Namespace = "SpeechTranscriber"

// Header names.
const (
	NameStartTranscription         = "StartTranscription"
	NameStopTranscription          = "StopTranscription"
	NameTranscriptionStarted       = "TranscriptionStarted"
	NameTranscriptionResultChanged = "TranscriptionResultChanged"
	NameSentenceEnd                = "SentenceEnd"
	NameTranscriptionCompleted     = "TranscriptionCompleted"
	NameTaskFailed                 = "TaskFailed"
)

// DefaultURL is the Shanghai gateway.
const DefaultURL = "wss://nls-gateway-cn-shanghai.aliyuncs.com/ws/v1"

// Status is a status code the service sends either as a number or a string.
type Status string

func (s *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Status(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	*s = Status(n.String())
	return nil
}

type Header struct {
	MessageID  string `json:"message_id"`
	TaskID     string `json:"task_id"`
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	AppKey     string `json:"appkey,omitempty"`
	Status     Status `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`
}

type StartPayload struct {
	Format                         string `json:"format"`
	SampleRate                     int    `json:"sample_rate"`
	EnableIntermediateResult       bool   `json:"enable_intermediate_result"`
	EnablePunctuationPrediction    bool   `json:"enable_punctuation_prediction"`
	EnableInverseTextNormalization bool   `json:"enable_inverse_text_normalization"`
	EnableWords                    bool   `json:"enable_words"`
}

// Command is an outbound control message.
type Command struct {
	Header  Header        `json:"header"`
	Payload *StartPayload `json:"payload,omitempty"`
}

type EventPayload struct {
	Result     string `json:"result"`
	Index      int    `json:"index,omitempty"`
	Time       int    `json:"time,omitempty"`
	Status     Status `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`
}

// Event is an inbound message.
type Event struct {
	Header  Header       `json:"header"`
	Payload EventPayload `json:"payload"`
}

// NewTaskID returns 32 lowercase hex characters.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func StartCommand(taskID, appKey string, interim bool) Command {
	return Command{
		Header: Header{
			MessageID: NewTaskID(),
			TaskID:    taskID,
			Namespace: Namespace,
			Name:      NameStartTranscription,
			AppKey:    appKey,
		},
		Payload: &StartPayload{
			Format:                         "pcm",
			SampleRate:                     audio.SampleRate,
			EnableIntermediateResult:       interim,
			EnablePunctuationPrediction:    true,
			EnableInverseTextNormalization: true,
			EnableWords:                    false,
		},
	}
}

func StopCommand(taskID, appKey string) Command {
	return Command{
		Header: Header{
			MessageID: NewTaskID(),
			TaskID:    taskID,
			Namespace: Namespace,
			Name:      NameStopTranscription,
			AppKey:    appKey,
		},
	}
}

// FailureMessage builds the user-facing text of a TaskFailed event. Header
// fields win over payload fields.
func (e Event) FailureMessage() string {
	code := e.Header.Status
	if code == "" {
		code = e.Payload.Status
	}
	text := e.Header.StatusText
	if text == "" {
		text = e.Payload.StatusText
	}
	if text == "" {
		text = "speech recognition task failed"
	}
	return fmt.Sprintf("error code: %s, %s", code, text)
}
