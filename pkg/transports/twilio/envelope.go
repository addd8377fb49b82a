package twilio

// Envelope is one inbound websocket message. Media payloads are base64
// audio; each media envelope carries one caller utterance.
type Envelope struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Start     *StartEvent `json:"start,omitempty"`
	Media     *MediaEvent `json:"media,omitempty"`
	Stop      *StopEvent  `json:"stop,omitempty"`
}

type StartEvent struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type MediaEvent struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type StopEvent struct {
	CallSID string `json:"callSid,omitempty"`
}
