package server

import (
	"encoding/xml"
	"net/http"
	"strings"
	"unicode"
)

// TwiML verbs. Element order inside a response is the order Twilio executes them.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type streamNoun struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

type connectVerb struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  streamNoun
}

type gatherVerb struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Say           *sayVerb
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

// connectStreamResponse opens a media stream to streamURL and then greets the caller.
func connectStreamResponse(streamURL, greeting string) twimlResponse {
	return twimlResponse{Verbs: []any{
		connectVerb{Stream: streamNoun{URL: streamURL}},
		sayVerb{Text: greeting},
	}}
}

func gatherSpeech(action, prompt string) gatherVerb {
	return gatherVerb{
		Input:         "speech",
		Action:        action,
		Method:        http.MethodPost,
		SpeechTimeout: "auto",
		Say:           &sayVerb{Text: prompt},
	}
}

// replyResponse speaks reply and listens for the caller's next utterance.
func replyResponse(reply, action, prompt string) twimlResponse {
	var verbs []any
	if reply != "" {
		verbs = append(verbs, sayVerb{Text: reply})
	}
	return twimlResponse{Verbs: append(verbs, gatherSpeech(action, prompt))}
}

func hangupResponse(farewell string) twimlResponse {
	return twimlResponse{Verbs: []any{sayVerb{Text: farewell}, hangupVerb{}}}
}

func renderTwiML(resp twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

var exitWords = map[string]struct{}{
	"exit":    {},
	"quit":    {},
	"bye":     {},
	"goodbye": {},
	"stop":    {},
}

var negations = map[string]struct{}{
	"not":     {},
	"never":   {},
	"don't":   {},
	"dont":    {},
	"can't":   {},
	"cannot":  {},
	"won't":   {},
	"doesn't": {},
}

var questionWords = map[string]struct{}{
	"what":  {},
	"when":  {},
	"where": {},
	"why":   {},
	"how":   {},
	"who":   {},
	"which": {},
	"can":   {},
	"could": {},
	"do":    {},
	"does":  {},
	"is":    {},
	"are":   {},
	"will":  {},
	"would": {},
}

// isExitPhrase reports whether the caller asked to end the call: an exit word
// anywhere in a statement, unless a negation comes before it. Questions never
// hang up.
func isExitPhrase(speech string) bool {
	speech = strings.ToLower(strings.TrimSpace(speech))
	if strings.HasSuffix(speech, "?") {
		return false
	}
	words := strings.FieldsFunc(strings.ReplaceAll(speech, "’", "'"), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return false
	}
	if _, ok := questionWords[words[0]]; ok {
		return false
	}
	for _, w := range words {
		if _, ok := negations[w]; ok {
			return false
		}
		if _, ok := exitWords[w]; ok {
			return true
		}
	}
	return false
}
