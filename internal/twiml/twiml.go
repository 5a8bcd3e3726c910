// Package twiml renders the XML call directives returned to the telephony
// provider. Every webhook response must be a syntactically valid document,
// so Render falls back to a minimal hangup document if marshaling fails.
package twiml

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// Say speaks text with the provider's built-in voice.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Play plays an audio file by URL.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Stream forks call audio to a websocket endpoint.
type Stream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// Start begins asynchronous verbs such as Stream.
type Start struct {
	XMLName xml.Name `xml:"Start"`
	Stream  *Stream
}

// Gather collects caller speech and posts it to the action URL.
type Gather struct {
	XMLName             xml.Name `xml:"Gather"`
	Input               string   `xml:"input,attr,omitempty"`
	Action              string   `xml:"action,attr,omitempty"`
	Method              string   `xml:"method,attr,omitempty"`
	SpeechTimeout       string   `xml:"speechTimeout,attr,omitempty"`
	ActionOnEmptyResult bool     `xml:"actionOnEmptyResult,attr,omitempty"`
	Say                 *Say
	Play                *Play
}

// Response is the document root. Verbs render in order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Append adds a verb to the response.
func (r *Response) Append(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Render marshals the response with the XML header.
func (r *Response) Render() string {
	out, err := xml.Marshal(r)
	if err != nil {
		return xml.Header + "<Response><Hangup/></Response>"
	}
	return xml.Header + string(out)
}

// Write sends the rendered response as text/xml.
func Write(w http.ResponseWriter, r *Response) {
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, r.Render())
}
