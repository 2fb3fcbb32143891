package rtp

import (
	"testing"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(ssrc uint32, cipher CipherAlgorithm, mac MACAlgorithm) SSRCKey {
	key := make([]byte, 16)
	salt := make([]byte, 14)
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range salt {
		salt[i] = byte(i + 100)
	}
	return SSRCKey{SSRC: ssrc, MasterKey: key, MasterSalt: salt, Cipher: cipher, MAC: mac}
}

func TestEncryptDecryptRTP_RoundTrips(t *testing.T) {
	cache := NewKeyCache()
	cache.Install(testKey(0x1234, CipherAESCM128, MACHMACSHA1_80))

	enc := NewEncoder(cache)
	dec := NewDecoder(cache)

	header := &pionrtp.Header{
		Version:        2,
		PayloadType:    96,
		SequenceNumber: 1,
		Timestamp:      90000,
		SSRC:           0x1234,
	}
	payload := []byte("hello media")

	ciphertext, err := enc.EncryptRTP(header, payload)
	require.NoError(t, err)
	assert.NotEqual(t, payload, ciphertext)

	plain, gotHeader, err := dec.DecryptRTP(0x1234, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
	assert.Equal(t, header.SequenceNumber, gotHeader.SequenceNumber)
}

func TestEncryptRTP_UnknownSSRCFails(t *testing.T) {
	cache := NewKeyCache()
	enc := NewEncoder(cache)
	_, err := enc.EncryptRTP(&pionrtp.Header{SSRC: 9}, []byte("x"))
	assert.Error(t, err)
}

func TestProtectionProfile_RejectsUnsupported256BitSuites(t *testing.T) {
	_, err := protectionProfile(CipherAESCM256, MACHMACSHA1_80)
	assert.ErrorIs(t, err, ErrUnsupportedCipherSuite)

	_, err = protectionProfile(CipherAESGCM256, MACNull)
	assert.ErrorIs(t, err, ErrUnsupportedCipherSuite)
}

func TestRequestKeyCaps_RendersExpectedNames(t *testing.T) {
	cache := NewKeyCache()
	cache.Install(testKey(0x1234, CipherAESCM128, MACHMACSHA1_80))

	caps, err := cache.RequestKeyCaps(0x1234)
	require.NoError(t, err)
	assert.Equal(t, "aes-128-icm", caps.SRTPCipher)
	assert.Equal(t, "hmac-sha1-80", caps.SRTPAuth)
	assert.Len(t, caps.Key, 30)
}
