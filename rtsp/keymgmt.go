package rtsp

import (
	"fmt"

	"github.com/distlabs/streamcore/rtp"
)

// ParseKeyMgmt decodes an RTSP KeyMgmt header value (a comma-separated
// list of prot=...; uri="..."; data=<base64> entries, of which only
// prot=mikey is supported) into the MIKEY message it carries.
func ParseKeyMgmt(header string) (*rtp.Message, error) {
	return rtp.ParseKeyMgmtHeader(header)
}

// InstallKeys decodes header and installs every crypto session it binds
// into cache, returning the decoded message so the caller can inspect
// the CSB id and policies. This is the SETUP-time path: the client's
// KeyMgmt header seeds the stream's per-SSRC SRTP key cache before any
// protected packet arrives.
func InstallKeys(header string, cache *rtp.KeyCache) (*rtp.Message, error) {
	msg, err := ParseKeyMgmt(header)
	if err != nil {
		return nil, err
	}
	if err := msg.InstallInto(cache); err != nil {
		return nil, fmt.Errorf("rtsp: installing MIKEY keys: %w", err)
	}
	return msg, nil
}
