package stt

import "fmt"

// ErrorCode is an engine-neutral recognition error code. Engines translate
// their native failures into one of these values.
type ErrorCode int

const (
	ErrorNetworkTimeout ErrorCode = iota + 1
	ErrorNetwork
	ErrorAudio
	ErrorServer
	ErrorClient
	ErrorSpeechTimeout
	ErrorNoMatch
	ErrorRecognizerBusy
	ErrorInsufficientPermissions
	ErrorTooManyRequests
	ErrorServerDisconnected
	ErrorLanguageNotSupported
	ErrorLanguageUnavailable
)

var errorCodeNames = map[ErrorCode]string{
	ErrorNetworkTimeout:          "NETWORK_TIMEOUT",
	ErrorNetwork:                 "NETWORK",
	ErrorAudio:                   "AUDIO",
	ErrorServer:                  "SERVER",
	ErrorClient:                  "CLIENT",
	ErrorSpeechTimeout:           "SPEECH_TIMEOUT",
	ErrorNoMatch:                 "NO_MATCH",
	ErrorRecognizerBusy:          "RECOGNIZER_BUSY",
	ErrorInsufficientPermissions: "INSUFFICIENT_PERMISSIONS",
	ErrorTooManyRequests:         "TOO_MANY_REQUESTS",
	ErrorServerDisconnected:      "SERVER_DISCONNECTED",
	ErrorLanguageNotSupported:    "LANGUAGE_NOT_SUPPORTED",
	ErrorLanguageUnavailable:     "LANGUAGE_UNAVAILABLE",
}

// String returns the engine-side name of the code.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(c))
}

// Category tells the controller whether an error ends the session.
type Category int

const (
	// Fatal errors are surfaced to the host and end the session.
	Fatal Category = iota
	// Recoverable errors trigger a silent restart of the engine.
	Recoverable
)

// String returns the lowercase label used in metrics.
func (c Category) String() string {
	if c == Recoverable {
		return "recoverable"
	}
	return "fatal"
}

// Host-facing error codes. These strings are part of the public protocol.
const (
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotAvailable     = "NOT_AVAILABLE"
	CodeAudioError       = "AUDIO_ERROR"
	CodeClientError      = "CLIENT_ERROR"
	CodeNetworkError     = "NETWORK_ERROR"
	CodeNetworkTimeout   = "NETWORK_TIMEOUT"
	CodeRecognizerBusy   = "RECOGNIZER_BUSY"
	CodeServerError      = "SERVER_ERROR"
	CodeUnknownError     = "UNKNOWN_ERROR"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeStartFailed      = "START_FAILED"
	CodeStopFailed       = "STOP_FAILED"
)

// Classification is the result of Classify.
type Classification struct {
	Category Category
	Code     string
	Message  string
}

var classifications = map[ErrorCode]Classification{
	ErrorNetworkTimeout:          {Fatal, CodeNetworkTimeout, "Network timeout"},
	ErrorNetwork:                 {Fatal, CodeNetworkError, "Network error"},
	ErrorAudio:                   {Fatal, CodeAudioError, "Audio recording error"},
	ErrorServer:                  {Fatal, CodeServerError, "Server error"},
	ErrorClient:                  {Recoverable, CodeClientError, "Client error"},
	ErrorSpeechTimeout:           {Recoverable, CodeUnknownError, "No speech input"},
	ErrorNoMatch:                 {Recoverable, CodeUnknownError, "No speech match"},
	ErrorRecognizerBusy:          {Recoverable, CodeRecognizerBusy, "Recognizer busy"},
	ErrorInsufficientPermissions: {Fatal, CodePermissionDenied, "Insufficient permissions"},
	ErrorTooManyRequests:         {Fatal, CodeServerError, "Too many requests"},
	ErrorServerDisconnected:      {Recoverable, CodeServerError, "Server disconnected"},
	ErrorLanguageNotSupported:    {Fatal, CodeNotAvailable, "Language not supported"},
	ErrorLanguageUnavailable:     {Fatal, CodeNotAvailable, "Language unavailable"},
}

// Classify maps an engine error code to its category and the normalized
// host-facing code and message. Unknown codes are fatal.
func Classify(code ErrorCode) Classification {
	if c, ok := classifications[code]; ok {
		return c
	}
	return Classification{Category: Fatal, Code: CodeUnknownError, Message: "Unknown error"}
}
