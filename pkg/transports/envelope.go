package transports

import "encoding/json"

// Envelope is the out-of-band control message format shared with the media
// collaborator. The stop-audio directive serializes as
//
//	{"Kind":"StopAudio","AudioData":null,"StopAudio":{}}
//
// and audio chunks as {"Kind":"Audio","AudioData":"<base64>"}.
type Envelope struct {
	Kind      string          `json:"Kind"`
	AudioData []byte          `json:"AudioData"`
	StopAudio json.RawMessage `json:"StopAudio,omitempty"`
}

const (
	KindAudio     = "Audio"
	KindStopAudio = "StopAudio"
)

// AudioEnvelope wraps one outbound audio chunk.
func AudioEnvelope(chunk []byte) Envelope {
	return Envelope{Kind: KindAudio, AudioData: chunk}
}

// StopAudioEnvelope builds the barge-in stop directive.
func StopAudioEnvelope() Envelope {
	return Envelope{Kind: KindStopAudio, StopAudio: json.RawMessage("{}")}
}
