package server

import "github.com/twilio/twilio-go/twiml"

// connectStreamTwiML tells Twilio to open a media stream to url. The caller
// number travels as a custom parameter of the stream's start frame.
func connectStreamTwiML(url, caller string) ([]byte, error) {
	stream := twiml.VoiceStream{Url: url}
	if caller != "" {
		stream.InnerElements = []twiml.Element{twiml.VoiceParameter{Name: "caller", Value: caller}}
	}
	doc, err := twiml.Voice([]twiml.Element{
		twiml.VoiceConnect{InnerElements: []twiml.Element{stream}},
	})
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
