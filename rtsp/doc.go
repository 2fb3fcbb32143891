// Package rtsp consumes the parsed RTSP-side inputs the stream engine
// acts on: transport descriptors from SETUP requests, KeyMgmt headers
// carrying MIKEY messages, and SDP session descriptions announcing the
// payload types a media offers.
//
// It deliberately contains no text generation: SDP formatting and RTSP
// request/response handling belong to the control-plane layer above this
// module. Everything here turns already-parsed values into the typed
// structures the rtp, streamtransport, and media packages operate on.
package rtsp
