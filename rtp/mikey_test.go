package rtp

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMIKEYMessage constructs a binary MIKEY message in the simplified
// wire format ParseMIKEYMessage decodes: a common header, one SRTP-ID
// CS-ID map entry binding ssrc to policy index 0, a KEMAC payload
// carrying keyData verbatim, and an SP payload describing the SRTP
// policy via (EncAlg, EncKeyLen, AuthAlg, AuthKeyLen) parameters.
func buildMIKEYMessage(ssrc uint32, roc uint32, keyData []byte, encAlg byte, keyLenBits int, authAlg byte, authKeyLenBits int) []byte {
	var buf []byte

	// Common header.
	buf = append(buf, 1)                 // version
	buf = append(buf, 2)                 // data type
	buf = append(buf, mikeyPayloadKEMAC) // next payload
	buf = append(buf, 0)                 // V + PRF func
	csbID := make([]byte, 4)
	binary.BigEndian.PutUint32(csbID, 0xdeadbeef)
	buf = append(buf, csbID...)
	buf = append(buf, 1) // #CS
	buf = append(buf, 0) // CS ID map type: SRTP-ID

	// CS entry: policy_no(1) + SSRC(4) + ROC(4).
	buf = append(buf, 0)
	ssrcB := make([]byte, 4)
	binary.BigEndian.PutUint32(ssrcB, ssrc)
	buf = append(buf, ssrcB...)
	rocB := make([]byte, 4)
	binary.BigEndian.PutUint32(rocB, roc)
	buf = append(buf, rocB...)

	// KEMAC payload: next(1)=SP, length(2), body = encAlg(1)+macAlg(1)+keylen(2)+keydata.
	kemacBody := []byte{0, 0}
	klenB := make([]byte, 2)
	binary.BigEndian.PutUint16(klenB, uint16(len(keyData)))
	kemacBody = append(kemacBody, klenB...)
	kemacBody = append(kemacBody, keyData...)

	buf = append(buf, mikeyPayloadSP)
	kemacLenB := make([]byte, 2)
	binary.BigEndian.PutUint16(kemacLenB, uint16(len(kemacBody)))
	buf = append(buf, kemacLenB...)
	buf = append(buf, kemacBody...)

	// SP payload: index(1) + policy type(1) + numParams(1) + (type,len,val) x4.
	spBody := []byte{0, 0, 4}
	spBody = append(spBody, 0x00, 1, encAlg)
	spBody = append(spBody, 0x01, 1, byte(keyLenBits/8))
	spBody = append(spBody, 0x02, 1, authAlg)
	spBody = append(spBody, 0x03, 1, byte(authKeyLenBits/8))

	buf = append(buf, mikeyPayloadLast)
	spLenB := make([]byte, 2)
	binary.BigEndian.PutUint16(spLenB, uint16(len(spBody)))
	buf = append(buf, spLenB...)
	buf = append(buf, spBody...)

	return buf
}

func TestParseMIKEYMessage_DecodesSessionAndPolicy(t *testing.T) {
	keyData := make([]byte, 30) // 16-byte key + 14-byte salt
	for i := range keyData {
		keyData[i] = byte(i)
	}
	raw := buildMIKEYMessage(0x1234, 7, keyData, mikeyEncAESCM, 128, mikeyAuthHMACSHA1, 80)

	msg, err := ParseMIKEYMessage(raw)
	require.NoError(t, err)
	require.Len(t, msg.Sessions, 1)
	assert.Equal(t, uint32(0x1234), msg.Sessions[0].SSRC)
	assert.Equal(t, uint32(7), msg.Sessions[0].ROC)

	policy, ok := msg.Policies[0]
	require.True(t, ok)
	assert.Equal(t, CipherAESCM128, policy.Cipher)
	assert.Equal(t, MACHMACSHA1_80, policy.MAC)
	assert.Equal(t, keyData, msg.KeyData)
}

func TestMessage_InstallInto_PopulatesKeyCache(t *testing.T) {
	keyData := make([]byte, 30)
	for i := range keyData {
		keyData[i] = byte(i + 1)
	}
	raw := buildMIKEYMessage(0x1234, 0, keyData, mikeyEncAESCM, 128, mikeyAuthHMACSHA1, 80)
	msg, err := ParseMIKEYMessage(raw)
	require.NoError(t, err)

	cache := NewKeyCache()
	require.NoError(t, msg.InstallInto(cache))

	caps, err := cache.RequestKeyCaps(0x1234)
	require.NoError(t, err)
	assert.Equal(t, "aes-128-icm", caps.SRTPCipher)
	assert.Equal(t, "hmac-sha1-80", caps.SRTPAuth)
	assert.Equal(t, "aes-128-icm", caps.SRTCPCipher)
	assert.Equal(t, "hmac-sha1-80", caps.SRTCPAuth)
	assert.Equal(t, keyData, caps.Key)
}

func TestParseKeyMgmtHeader_DecodesBase64EmbeddedMessage(t *testing.T) {
	keyData := make([]byte, 30)
	raw := buildMIKEYMessage(0x1234, 0, keyData, mikeyEncNull, 0, mikeyAuthNull, 0)
	encoded := base64.StdEncoding.EncodeToString(raw)
	header := `prot=mikey; uri="rtsp://example/stream=0"; data="` + encoded + `"`

	msg, err := ParseKeyMgmtHeader(header)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), msg.Sessions[0].SSRC)
	assert.Equal(t, CipherNull, msg.Policies[0].Cipher)
}

func TestParseKeyMgmtHeader_SkipsNonMIKEYEntries(t *testing.T) {
	_, err := ParseKeyMgmtHeader(`prot=other; data="AA=="`)
	assert.ErrorIs(t, err, ErrNotMIKEY)
}
