// Package publish forwards accepted records to an MQTT broker.
//
// Each record is sent as-is to the configured record topic. The agent's
// presence is kept on a retained status topic: "online" after connecting,
// "offline" on Close, and an "offline" last will for crashes.
//
// Forwarding is best effort: a publish failure is logged by the caller and
// never stops acquisition.
package publish
