package rtp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v2"

	"github.com/distlabs/streamcore/crypto"
)

// CipherAlgorithm names the SRTP encryption algorithm resolved from a
// MIKEY policy's (EncAlg, KeyLen) pair.
type CipherAlgorithm int

const (
	CipherAESCM128 CipherAlgorithm = iota
	CipherAESGCM128
	CipherAESCM256
	CipherAESGCM256
	CipherNull
)

// MACAlgorithm names the SRTP authentication algorithm.
type MACAlgorithm int

const (
	MACHMACSHA1_80 MACAlgorithm = iota
	MACHMACSHA1_32
	MACNull
)

// ErrUnsupportedCipherSuite is returned when a MIKEY policy resolves to
// a (cipher, mac) pair protectionProfile does not map to a pion/srtp
// profile: anything other than AES-CM-128 with HMAC-SHA1-80/32 or
// AES-GCM-128, which includes AES-CM-256, AES-GCM-256 and the null
// cipher.
var ErrUnsupportedCipherSuite = errors.New("rtp: unsupported SRTP cipher suite")

// protectionProfile maps (cipher, mac) to the pion/srtp profile that
// realises it.
func protectionProfile(cipher CipherAlgorithm, mac MACAlgorithm) (srtp.ProtectionProfile, error) {
	switch {
	case cipher == CipherAESCM128 && mac == MACHMACSHA1_80:
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case cipher == CipherAESCM128 && mac == MACHMACSHA1_32:
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case cipher == CipherAESGCM128:
		return srtp.ProtectionProfileAeadAes128Gcm, nil
	default:
		return 0, fmt.Errorf("%w: cipher=%d mac=%d", ErrUnsupportedCipherSuite, cipher, mac)
	}
}

// SSRCKey is one SSRC's SRTP master key/salt plus the cipher/mac it was
// derived under, cached for the `request-key` signal path.
type SSRCKey struct {
	SSRC       uint32
	MasterKey  []byte
	MasterSalt []byte
	Cipher     CipherAlgorithm
	MAC        MACAlgorithm
	ROC        uint32 // per-session rollover counter
}

// KeyCache holds per-SSRC SRTP keys installed from MIKEY messages,
// consulted by the `request-key` signal equivalent when a new SSRC
// appears on an already-keyed stream.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[uint32]SSRCKey
}

// NewKeyCache creates an empty KeyCache.
func NewKeyCache() *KeyCache { return &KeyCache{keys: make(map[uint32]SSRCKey)} }

// Install adds or replaces the key for k.SSRC, securely wiping any
// master key/salt material it supersedes.
func (c *KeyCache) Install(k SSRCKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.keys[k.SSRC]; ok {
		_ = crypto.WipeAll(old.MasterKey, old.MasterSalt)
	}
	c.keys[k.SSRC] = k
}

// Wipe securely erases every cached key's master key/salt material and
// empties the cache, for use when a stream is torn down.
func (c *KeyCache) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ssrc, k := range c.keys {
		_ = crypto.WipeAll(k.MasterKey, k.MasterSalt)
		delete(c.keys, ssrc)
	}
}

// Lookup returns the key installed for ssrc, answering the
// `request-key` signal.
func (c *KeyCache) Lookup(ssrc uint32) (SSRCKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[ssrc]
	return k, ok
}

// Encoder wraps a single srtp encryption context shared between the
// RTP and RTCP directions, the way a lone srtpenc element serves both.
type Encoder struct {
	mu    sync.Mutex
	byKey map[uint32]*srtp.Context
	cache *KeyCache
}

// NewEncoder creates an Encoder keyed from cache.
func NewEncoder(cache *KeyCache) *Encoder {
	return &Encoder{byKey: make(map[uint32]*srtp.Context), cache: cache}
}

func (e *Encoder) contextFor(ssrc uint32) (*srtp.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx, ok := e.byKey[ssrc]; ok {
		return ctx, nil
	}
	k, ok := e.cache.Lookup(ssrc)
	if !ok {
		return nil, fmt.Errorf("rtp: no SRTP key installed for ssrc %d", ssrc)
	}
	profile, err := protectionProfile(k.Cipher, k.MAC)
	if err != nil {
		return nil, err
	}
	ctx, err := srtp.CreateContext(k.MasterKey, k.MasterSalt, profile)
	if err != nil {
		return nil, err
	}
	e.byKey[ssrc] = ctx
	return ctx, nil
}

// EncryptRTP protects an RTP packet in place, returning the SRTP
// ciphertext.
func (e *Encoder) EncryptRTP(header *rtp.Header, payload []byte) ([]byte, error) {
	ctx, err := e.contextFor(header.SSRC)
	if err != nil {
		return nil, err
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		return nil, err
	}
	plaintext := append(headerBytes, payload...)
	return ctx.EncryptRTP(nil, plaintext, header)
}

// Decoder mirrors Encoder for the receive direction (srtpdec).
type Decoder struct {
	mu    sync.Mutex
	byKey map[uint32]*srtp.Context
	cache *KeyCache
}

// NewDecoder creates a Decoder keyed from cache.
func NewDecoder(cache *KeyCache) *Decoder {
	return &Decoder{byKey: make(map[uint32]*srtp.Context), cache: cache}
}

func (d *Decoder) contextFor(ssrc uint32) (*srtp.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx, ok := d.byKey[ssrc]; ok {
		return ctx, nil
	}
	k, ok := d.cache.Lookup(ssrc)
	if !ok {
		return nil, fmt.Errorf("rtp: no SRTP key installed for ssrc %d", ssrc)
	}
	profile, err := protectionProfile(k.Cipher, k.MAC)
	if err != nil {
		return nil, err
	}
	ctx, err := srtp.CreateContext(k.MasterKey, k.MasterSalt, profile)
	if err != nil {
		return nil, err
	}
	d.byKey[ssrc] = ctx
	return ctx, nil
}

// DecryptRTP unprotects an SRTP packet, answering the `request-key`
// signal against d.cache on first use of a given SSRC.
func (d *Decoder) DecryptRTP(ssrc uint32, encrypted []byte) ([]byte, *rtp.Header, error) {
	ctx, err := d.contextFor(ssrc)
	if err != nil {
		return nil, nil, err
	}
	var header rtp.Header
	plain, err := ctx.DecryptRTP(nil, encrypted, &header)
	if err != nil {
		return nil, nil, err
	}
	return plain[header.MarshalSize():], &header, nil
}

// KeyCaps is the answer to srtpdec's `request-key` signal: a caps
// description naming both the SRTP and SRTCP cipher/auth pair (they
// share one policy per SSRC) and the
// raw key buffer.
type KeyCaps struct {
	SRTPCipher  string
	SRTPAuth    string
	SRTCPCipher string
	SRTCPAuth   string
	Key         []byte
}

// RequestKeyCaps answers the request-key signal for ssrc, rendering the
// cipher/auth names GStreamer's srtp-cipher/srtp-auth caps fields use.
func (c *KeyCache) RequestKeyCaps(ssrc uint32) (KeyCaps, error) {
	k, ok := c.Lookup(ssrc)
	if !ok {
		return KeyCaps{}, fmt.Errorf("rtp: no key for ssrc %d", ssrc)
	}
	cipherName, err := cipherCapsName(k.Cipher)
	if err != nil {
		return KeyCaps{}, err
	}
	authName := macCapsName(k.MAC)
	return KeyCaps{
		SRTPCipher:  cipherName,
		SRTPAuth:    authName,
		SRTCPCipher: cipherName,
		SRTCPAuth:   authName,
		Key:         append(append([]byte(nil), k.MasterKey...), k.MasterSalt...),
	}, nil
}

func cipherCapsName(c CipherAlgorithm) (string, error) {
	switch c {
	case CipherAESCM128:
		return "aes-128-icm", nil
	case CipherAESGCM128:
		return "aes-128-gcm", nil
	case CipherAESCM256:
		return "aes-256-icm", nil
	case CipherAESGCM256:
		return "aes-256-gcm", nil
	case CipherNull:
		return "null", nil
	default:
		return "", fmt.Errorf("rtp: unknown cipher %d", c)
	}
}

func macCapsName(m MACAlgorithm) string {
	switch m {
	case MACHMACSHA1_80:
		return "hmac-sha1-80"
	case MACHMACSHA1_32:
		return "hmac-sha1-32"
	default:
		return "null"
	}
}
