// Package crypto provides small security-hygiene utilities shared across
// the module: secure wiping of sensitive byte buffers (SRTP master
// keys/salts once superseded or a stream is torn down), overflow-checked
// numeric conversions (RTCP/NTP timestamp arithmetic crosses the
// uint64/int64 boundary in several places), and an injectable time
// provider for deterministic tests of time-dependent RTCP and
// session-timeout logic.
//
// None of these are domain-specific to RTP/RTSP; they are the ambient
// safety utilities the rest of the module reaches for rather than
// hand-rolling inline.
package crypto
