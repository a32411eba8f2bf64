package whatsapp

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

// Credentials identify the paired device inside the whatsmeow datastore. The
// key material stays in the datastore; this blob only points at it.
type Credentials struct {
	JID          string    `json:"jid"`
	LID          string    `json:"lid,omitempty"`
	Platform     string    `json:"platform,omitempty"`
	BusinessName string    `json:"business_name,omitempty"`
	PushName     string    `json:"push_name,omitempty"`
	PairedAt     time.Time `json:"paired_at"`
}

func (c Credentials) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCredentials parses a stored blob. An empty blob yields zero
// Credentials, meaning a fresh pairing is required.
func DecodeCredentials(blob []byte) (Credentials, error) {
	var creds Credentials
	if len(blob) == 0 {
		return creds, nil
	}
	if err := json.Unmarshal(blob, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

// DeviceJID returns the paired device JID, or false when unpaired.
func (c Credentials) DeviceJID() (types.JID, bool) {
	if c.JID == "" {
		return types.EmptyJID, false
	}
	jid, err := types.ParseJID(c.JID)
	if err != nil || jid.IsEmpty() {
		return types.EmptyJID, false
	}
	return jid, true
}

func credentialsFromPair(evt pairInfo, pairedAt time.Time) Credentials {
	creds := Credentials{
		JID:          evt.ID.String(),
		Platform:     evt.Platform,
		BusinessName: evt.BusinessName,
		PairedAt:     pairedAt,
	}
	if !evt.LID.IsEmpty() {
		creds.LID = evt.LID.String()
	}
	return creds
}

// credentialsFromDevice snapshots a logged in device. pairedAt is carried
// over from the previously stored credentials when known.
func credentialsFromDevice(device *store.Device, pairedAt time.Time) (Credentials, bool) {
	if device == nil || device.ID == nil {
		return Credentials{}, false
	}
	creds := Credentials{
		JID:          device.ID.String(),
		Platform:     device.Platform,
		BusinessName: device.BusinessName,
		PushName:     device.PushName,
		PairedAt:     pairedAt,
	}
	if !device.LID.IsEmpty() {
		creds.LID = device.LID.String()
	}
	return creds, true
}

type pairInfo struct {
	ID           types.JID
	LID          types.JID
	Platform     string
	BusinessName string
}
