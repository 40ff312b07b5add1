package telephony

import (
	"fmt"
	"log"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// Dialer executes call transfers against the Twilio REST API by redirecting
// the live call to dial the destination number.
type Dialer struct {
	client *twilio.RestClient
}

func NewDialer(accountSID, authToken string) *Dialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Dialer{client: client}
}

// Transfer redirects the call identified by callSID to dial destination.
// The media stream drops as a side effect, which ends the session normally.
func (d *Dialer) Transfer(callSID, destination string) error {
	doc, err := transferTwiml(destination)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", callSID, err)
	}
	params := &twilioApi.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := d.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("transfer %s: update call: %w", callSID, err)
	}
	log.Printf("[%s] transfer dialed %s", callSID, destination)
	return nil
}

func transferTwiml(destination string) (string, error) {
	if destination == "" {
		return "", fmt.Errorf("empty destination")
	}
	dial := &twiml.VoiceDial{Number: destination}
	return twiml.Voice([]twiml.Element{dial})
}
