package local

// Engine error codes reported through Sink.OnError.
const (
	ErrCodeNoSpeech          = "no-speech"
	ErrCodeAborted           = "aborted"
	ErrCodeAudioCapture      = "audio-capture"
	ErrCodeNotAllowed        = "not-allowed"
	ErrCodeNetwork           = "network"
	ErrCodeServiceNotAllowed = "service-not-allowed"
)

// RecognitionOptions configure one recognition instance.
type RecognitionOptions struct {
	Language        string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
}

// Result is one recognized segment.
type Result struct {
	Transcript string
	IsFinal    bool
}

// ResultEvent carries the engine's result list; segments before ResultIndex
// were already reported.
type ResultEvent struct {
	ResultIndex int
	Results     []Result
}

// Sink receives engine events for one recognition instance.
type Sink interface {
	OnStart()
	OnEnd()
	OnResult(ev ResultEvent)
	OnError(code, message string)
}

// Recognition is a single engine session.
type Recognition interface {
	Start() error
	Stop()
	Abort()
}

// Engine is the on-device recognizer available in the runtime.
type Engine interface {
	Supported() bool
	NewRecognition(opts RecognitionOptions, sink Sink) (Recognition, error)
}

// fold concatenates the unreported segments. If any are final, the finals
// win and are reported as one final result.
func fold(ev ResultEvent) (text string, isFinal bool) {
	var final, interim string
	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	for i := start; i < len(ev.Results); i++ {
		r := ev.Results[i]
		if r.IsFinal {
			final += r.Transcript
		} else {
			interim += r.Transcript
		}
	}
	if final != "" {
		return final, true
	}
	return interim, false
}

// errorMessage maps a terminal engine error code to the user-facing message.
func errorMessage(code string) string {
	switch code {
	case ErrCodeAudioCapture:
		return "no microphone found, make sure a microphone is connected"
	case ErrCodeNotAllowed:
		return "microphone permission denied, allow microphone access in settings"
	case ErrCodeNetwork:
		return "network error during speech recognition, check the connection and retry"
	case ErrCodeServiceNotAllowed:
		return "speech recognition service unavailable, retry later"
	default:
		return "speech recognition error: " + code
	}
}
