// Package session owns the WhatsApp connection lifecycle.
//
// A Controller drives a single live Connection obtained from a Provider
// through Connecting, Open and Closed. Provider events arrive on one ordered
// channel per connection and are applied strictly in arrival order: QR
// payloads go to the QR publisher, credential updates are persisted before
// the next event is read, and a close either schedules a reconnect after a
// backoff delay or, when the device was logged out, deletes the stored
// credentials and ends Run with ErrLoggedOut.
package session
