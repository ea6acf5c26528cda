// Package controlbus exposes the command router over NATS.
//
// Requests arrive on "<prefix>.<camera>.<action>" and are answered on the
// message's reply subject with a JSON result. The camera token "all" fans the
// action out to every supervised camera. Worker state changes are published
// on "<prefix>.<camera>.state" without a reply subject, so the bus ignores
// its own announcements.
package controlbus
