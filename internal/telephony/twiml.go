package telephony

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"
)

// HandleVoice answers the Twilio voice webhook with TwiML that connects the
// call to the media stream endpoint. The flow id travels as a stream custom
// parameter so one number can serve many flows.
func (h *Handler) HandleVoice(c echo.Context) error {
	params, _ := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]
	from := params["From"]
	log.Printf("incoming call from %s, CallSID: %s", from, callSID)

	flowID := c.QueryParam("flow_id")
	if flowID == "" {
		flowID = h.DefaultFlowID
	}

	host := publicHost(h.PublicHost, c.Request())
	streamURL := fmt.Sprintf("%s://%s/twilio/stream", wsScheme(host), host)

	stream := &twiml.VoiceStream{
		Url: streamURL,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "flow_id", Value: flowID},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "twiml generation failed")
	}
	return c.XMLBlob(http.StatusOK, []byte(doc))
}
