// Package voice defines the event and command contract between the interview
// engine and a realtime voice transport.
//
// A transport is any service that runs the spoken side of an interview call:
// it plays synthesized assistant speech to the candidate, transcribes the
// candidate's speech, and reports both as a stream of timestamped [Event]
// values. The engine consumes events through [Transport.Events] and issues
// commands (speak, cancel speech, system message) back through the same
// handle.
package voice

import "time"

// EventType discriminates the events a transport emits.
type EventType string

const (
	// EventSpeechStart signals that the speaker identified by Role began
	// talking.
	EventSpeechStart EventType = "speech-start"

	// EventSpeechEnd signals that the speaker identified by Role stopped
	// talking.
	EventSpeechEnd EventType = "speech-end"

	// EventTranscript carries a partial or final transcript fragment for the
	// speaker identified by Role.
	EventTranscript EventType = "transcript"

	// EventUserInterrupted is the transport's own barge-in signal: the
	// candidate began speaking over assistant audio.
	EventUserInterrupted EventType = "user-interrupted"

	// EventVoiceInput signals raw candidate audio activity before any
	// transcript exists.
	EventVoiceInput EventType = "voice-input"

	// EventSpeechUpdate carries a speech status change ("started"/"stopped")
	// for the speaker identified by Role.
	EventSpeechUpdate EventType = "speech-update"
)

// Role identifies who an event is about.
type Role string

const (
	// RoleAssistant is the AI interviewer's synthesized voice.
	RoleAssistant Role = "assistant"

	// RoleUser is the human candidate.
	RoleUser Role = "user"
)

// TranscriptType distinguishes streaming fragments from finalized utterances.
type TranscriptType string

const (
	// TranscriptPartial is an in-progress, revisable fragment.
	TranscriptPartial TranscriptType = "partial"

	// TranscriptFinal is a completed utterance that will not change.
	TranscriptFinal TranscriptType = "final"
)

// SpeechStatusStarted is the Status value of an [EventSpeechUpdate] that
// marks the beginning of speech.
const SpeechStatusStarted = "started"

// Event is a single occurrence on a live voice call.
//
// Only the fields relevant to the Type are populated; the rest are zero.
type Event struct {
	// Type discriminates the event.
	Type EventType `json:"type"`

	// Role identifies the speaker for speech and transcript events.
	Role Role `json:"role,omitempty"`

	// TranscriptType is set on EventTranscript events.
	TranscriptType TranscriptType `json:"transcriptType,omitempty"`

	// Transcript is the text fragment of an EventTranscript event.
	Transcript string `json:"transcript,omitempty"`

	// Status is set on EventSpeechUpdate events ("started" or "stopped").
	Status string `json:"status,omitempty"`

	// Timestamp is when the transport observed the event. A zero value means
	// the transport did not timestamp it; consumers fall back to their own
	// clock.
	Timestamp time.Time `json:"timestamp,omitempty"`
}
