package rtp

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// MIKEY payload type octets (RFC 3830 §6.1), the subset this decoder
// recognises by name; everything else is skipped via its payload's own
// length prefix.
const (
	mikeyPayloadLast  = 0
	mikeyPayloadKEMAC = 1
	mikeyPayloadSP    = 10
)

// MIKEY (EncAlg, KeyLen)/(AuthAlg) constants this decoder resolves to
// rtp.CipherAlgorithm/rtp.MACAlgorithm.
const (
	mikeyEncNull      = 0
	mikeyEncAESCM     = 1
	mikeyEncAESKW     = 2
	mikeyEncAESGCM    = 7
	mikeyAuthNull     = 0
	mikeyAuthHMACSHA1 = 2
)

var (
	// ErrNotMIKEY indicates the KeyMgmt header's prot= field was not
	// "mikey", the only supported key-management protocol.
	ErrNotMIKEY = errors.New("rtp: KeyMgmt protocol is not mikey")
	// ErrTruncatedMIKEY indicates the binary message ended before a
	// required field could be read.
	ErrTruncatedMIKEY = errors.New("rtp: truncated MIKEY message")
)

// CryptoSession is one (policy, SSRC, ROC) binding from a MIKEY message's
// CS-ID map, naming which SRTP policy applies to which SSRC.
type CryptoSession struct {
	PolicyNo uint8
	SSRC     uint32
	ROC      uint32
}

// Policy is one SRTP security policy (SP payload) from a MIKEY message:
// the resolved cipher/MAC pair plus the policy index CryptoSessions
// reference.
type Policy struct {
	Index  uint8
	Cipher CipherAlgorithm
	MAC    MACAlgorithm
}

// Message is the decoded subset of a MIKEY message this package acts
// on: the CSB id, the crypto-session/SSRC bindings, the SRTP policies,
// and the key data carried in the KEMAC payload. Key transport is
// simplified to the NULL-encryption case (the key data sub-payload
// carries the plaintext master key/salt directly), the form commonly
// used for RTSP/ONVIF's embedded-key MIKEY extension rather than full
// PKE/DH-negotiated key transport.
type Message struct {
	CSBID    uint32
	Sessions []CryptoSession
	Policies map[uint8]Policy
	KeyData  []byte // concatenated master key || master salt
}

// ParseKeyMgmtHeader parses an RTSP KeyMgmt header value: a
// comma-separated list of `prot=mikey; uri="..."; data=<base64>` entries.
// Only the first prot=mikey entry is decoded; entries with
// another protocol are skipped.
func ParseKeyMgmtHeader(header string) (*Message, error) {
	for _, entry := range strings.Split(header, ",") {
		fields := parseSemicolonFields(entry)
		if fields["prot"] != "mikey" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(fields["data"])
		if err != nil {
			return nil, fmt.Errorf("rtp: decoding KeyMgmt data: %w", err)
		}
		return ParseMIKEYMessage(raw)
	}
	return nil, ErrNotMIKEY
}

func parseSemicolonFields(entry string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(entry, ";") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	return out
}

// ParseMIKEYMessage decodes the binary MIKEY message body (already
// base64-decoded) into a Message.
func ParseMIKEYMessage(raw []byte) (*Message, error) {
	if len(raw) < 10 {
		return nil, ErrTruncatedMIKEY
	}
	nextPayload := raw[2]
	csbID := binary.BigEndian.Uint32(raw[4:8])
	numCS := int(raw[8])
	csIDMapType := raw[9]
	off := 10

	msg := &Message{CSBID: csbID, Policies: make(map[uint8]Policy)}

	if csIDMapType == 0 { // SRTP-ID map: policy_no(1) + SSRC(4) + ROC(4) per CS
		for i := 0; i < numCS; i++ {
			if off+9 > len(raw) {
				return nil, ErrTruncatedMIKEY
			}
			msg.Sessions = append(msg.Sessions, CryptoSession{
				PolicyNo: raw[off],
				SSRC:     binary.BigEndian.Uint32(raw[off+1 : off+5]),
				ROC:      binary.BigEndian.Uint32(raw[off+5 : off+9]),
			})
			off += 9
		}
	}

	for nextPayload != mikeyPayloadLast {
		if off+3 > len(raw) {
			return nil, ErrTruncatedMIKEY
		}
		payloadType := nextPayload
		nextPayload = raw[off]
		length := int(binary.BigEndian.Uint16(raw[off+1 : off+3]))
		off += 3
		if off+length > len(raw) {
			return nil, ErrTruncatedMIKEY
		}
		body := raw[off : off+length]
		off += length

		switch payloadType {
		case mikeyPayloadKEMAC:
			if err := parseKEMAC(body, msg); err != nil {
				return nil, err
			}
		case mikeyPayloadSP:
			p, err := parseSP(body)
			if err != nil {
				return nil, err
			}
			msg.Policies[p.Index] = p
		}
	}
	return msg, nil
}

// parseKEMAC decodes a KEMAC payload under the NULL-encryption,
// NULL-MAC simplification: Encr alg (1) | MAC alg (1) | key data length
// (2) | key data.
func parseKEMAC(body []byte, msg *Message) error {
	if len(body) < 4 {
		return ErrTruncatedMIKEY
	}
	klen := int(binary.BigEndian.Uint16(body[2:4]))
	if 4+klen > len(body) {
		return ErrTruncatedMIKEY
	}
	msg.KeyData = append([]byte(nil), body[4:4+klen]...)
	return nil
}

// parseSP decodes a Security Policy payload's relevant SRTP parameters:
// policy index(1) | policy type(1, must be 0/SRTP) | #params(1) | then
// (type, length, value) triples; this decoder only interprets the
// EncAlg(0x00)/EncKeyLen(0x01)/AuthAlg(0x02)/AuthKeyLen(0x03) parameter
// types it needs to resolve a CipherAlgorithm/MACAlgorithm pair.
func parseSP(body []byte) (Policy, error) {
	if len(body) < 3 {
		return Policy{}, ErrTruncatedMIKEY
	}
	index := body[0]
	numParams := int(body[2])
	off := 3

	var encAlg, authAlg byte
	var keyLenBits, authKeyLenBits int
	for i := 0; i < numParams; i++ {
		if off+2 > len(body) {
			return Policy{}, ErrTruncatedMIKEY
		}
		ptype := body[off]
		plen := int(body[off+1])
		off += 2
		if off+plen > len(body) {
			return Policy{}, ErrTruncatedMIKEY
		}
		val := body[off : off+plen]
		off += plen
		switch ptype {
		case 0x00:
			if len(val) > 0 {
				encAlg = val[0]
			}
		case 0x01:
			keyLenBits = bytesToInt(val) * 8
		case 0x02:
			if len(val) > 0 {
				authAlg = val[0]
			}
		case 0x03:
			authKeyLenBits = bytesToInt(val) * 8
		}
	}

	cipher, err := resolveCipher(encAlg, keyLenBits)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Index: index, Cipher: cipher, MAC: resolveMAC(authAlg, authKeyLenBits)}, nil
}

func bytesToInt(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

// resolveCipher maps a MIKEY (EncAlg, KeyLen) pair to a CipherAlgorithm:
// AES-CM-128, AES-GCM-128, AES-CM-256, AES-GCM-256, or null.
func resolveCipher(encAlg byte, keyLenBits int) (CipherAlgorithm, error) {
	switch {
	case encAlg == mikeyEncNull:
		return CipherNull, nil
	case encAlg == mikeyEncAESCM && keyLenBits <= 128:
		return CipherAESCM128, nil
	case encAlg == mikeyEncAESCM && keyLenBits > 128:
		return CipherAESCM256, nil
	case encAlg == mikeyEncAESGCM && keyLenBits <= 128:
		return CipherAESGCM128, nil
	case encAlg == mikeyEncAESGCM && keyLenBits > 128:
		return CipherAESGCM256, nil
	default:
		return CipherNull, fmt.Errorf("rtp: unrecognised MIKEY enc_alg %d/%d bits", encAlg, keyLenBits)
	}
}

// resolveMAC maps a MIKEY auth_alg/key length to a MACAlgorithm, to
// HMAC-SHA1-80, HMAC-SHA1-32, or null.
func resolveMAC(authAlg byte, keyLenBits int) MACAlgorithm {
	switch {
	case authAlg == mikeyAuthNull:
		return MACNull
	case authAlg == mikeyAuthHMACSHA1 && keyLenBits <= 32:
		return MACHMACSHA1_32
	default:
		return MACHMACSHA1_80
	}
}

// InstallInto resolves msg's sessions/policies into cache, one SSRCKey
// per CryptoSession, splitting KeyData into a 16-byte master key and a
// 14-byte master salt, the AES-CM-128/HMAC-SHA1 sizing. Callers
// needing other suite sizes must split KeyData themselves and call
// cache.Install directly.
func (m *Message) InstallInto(cache *KeyCache) error {
	const keyLen, saltLen = 16, 14
	for _, cs := range m.Sessions {
		policy, ok := m.Policies[cs.PolicyNo]
		if !ok {
			return fmt.Errorf("rtp: no SP payload for policy %d (ssrc %d)", cs.PolicyNo, cs.SSRC)
		}
		if len(m.KeyData) < keyLen+saltLen {
			return fmt.Errorf("rtp: key data too short for ssrc %d: %d bytes", cs.SSRC, len(m.KeyData))
		}
		cache.Install(SSRCKey{
			SSRC:       cs.SSRC,
			MasterKey:  append([]byte(nil), m.KeyData[:keyLen]...),
			MasterSalt: append([]byte(nil), m.KeyData[keyLen:keyLen+saltLen]...),
			Cipher:     policy.Cipher,
			MAC:        policy.MAC,
			ROC:        cs.ROC,
		})
	}
	return nil
}
