package rtsp

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distlabs/streamcore/rtp"
)

// mikeyHeader builds a KeyMgmt header value embedding a minimal MIKEY
// message: one crypto session binding ssrc to policy 0 (AES-CM-128 /
// HMAC-SHA1-80) and a KEMAC carrying keyData.
func mikeyHeader(t *testing.T, ssrc uint32, keyData []byte) string {
	t.Helper()
	var buf []byte
	buf = append(buf, 1, 2, 1, 0) // version, data type, next=KEMAC, V+PRF
	buf = binary.BigEndian.AppendUint32(buf, 0xcafe)
	buf = append(buf, 1, 0) // one CS, SRTP-ID map
	buf = append(buf, 0)    // policy_no
	buf = binary.BigEndian.AppendUint32(buf, ssrc)
	buf = binary.BigEndian.AppendUint32(buf, 0) // ROC

	// KEMAC: next=SP, length, enc(1)+mac(1)+keylen(2)+key.
	kemac := []byte{0, 0}
	kemac = binary.BigEndian.AppendUint16(kemac, uint16(len(keyData)))
	kemac = append(kemac, keyData...)
	buf = append(buf, 10)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(kemac)))
	buf = append(buf, kemac...)

	// SP: next=last, length, index(0)+type(0)+4 params.
	sp := []byte{0, 0, 4,
		0x00, 1, 1, // EncAlg AES-CM
		0x01, 1, 16, // 128-bit key
		0x02, 1, 2, // AuthAlg HMAC-SHA1
		0x03, 1, 10, // 80-bit tag
	}
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(sp)))
	buf = append(buf, sp...)

	encoded := base64.StdEncoding.EncodeToString(buf)
	return `prot=mikey; uri="rtsp://example/stream=0"; data="` + encoded + `"`
}

func TestInstallKeysSeedsCache(t *testing.T) {
	keyData := make([]byte, 30)
	for i := range keyData {
		keyData[i] = byte(i)
	}
	cache := rtp.NewKeyCache()

	msg, err := InstallKeys(mikeyHeader(t, 0x1234, keyData), cache)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xcafe), msg.CSBID)

	caps, err := cache.RequestKeyCaps(0x1234)
	require.NoError(t, err)
	assert.Equal(t, "aes-128-icm", caps.SRTPCipher)
	assert.Equal(t, "hmac-sha1-80", caps.SRTPAuth)
	assert.Equal(t, keyData, caps.Key)
}

func TestParseKeyMgmtRejectsOtherProtocols(t *testing.T) {
	_, err := ParseKeyMgmt(`prot=sdes; data="AA=="`)
	assert.ErrorIs(t, err, rtp.ErrNotMIKEY)
}
