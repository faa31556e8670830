// Package ntlm implements the NTLMv2 challenge-response key derivation
// and message framing used by the TDS login state machine (MS-NLMP),
// built on the cryptographic primitives in internal/cryptoprim.
package ntlm

import (
	"github.com/sqlbridge/sqlbridge/internal/cryptoprim"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// NegotiateFlags is the fixed flag set the client advertises in both
// NEGOTIATE and AUTHENTICATE messages.
const NegotiateFlags uint32 = 0x62088235

// Message type bytes.
const (
	MsgNegotiate    uint32 = 1
	MsgChallenge    uint32 = 2
	MsgAuthenticate uint32 = 3
)

// AV pair IDs within target info (only MsvAvEOL is referenced directly).
const avEOL uint16 = 0x0000

// NTHash computes NTHash = MD4(UTF16LE(password)).
func NTHash(password string) []byte {
	return cryptoprim.MD4(wire.StringToUTF16LE(password))
}

// NTLMv2Hash computes NTLMv2Key = HMAC-MD5(NTHash, UTF16LE(UPPER(username) + domain)).
// Only the username is uppercased; the domain preserves case.
func NTLMv2Hash(ntHash []byte, username, domain string) []byte {
	upperUser := toUpperASCII(username)
	id := wire.StringToUTF16LE(upperUser + domain)
	return cryptoprim.HMACMD5(ntHash, id)
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// Blob builds the NTLMv2 "blob" appended to the NT response: signature,
// reserved, FILETIME timestamp, client challenge, reserved, the
// server-supplied target-info, and a 4-byte MsvAvEOL terminator.
func Blob(timestamp uint64, clientChallenge [8]byte, targetInfo []byte) []byte {
	w := wire.NewWriter()
	w.WriteUint32LE(0x00000101) // signature 01 01 00 00
	w.WriteUint32LE(0)          // reserved
	w.WriteUint64LE(timestamp)
	w.WriteBytes(clientChallenge[:])
	w.WriteUint32LE(0) // reserved
	w.WriteBytes(targetInfo)
	w.WriteUint16LE(avEOL)
	w.WriteUint16LE(0) // AV pair length 0
	return w.Bytes()
}

// Responses holds the NT and LM response blobs computed for an
// AUTHENTICATE message.
type Responses struct {
	NTProofStr []byte // HMAC-MD5(key, serverChallenge||blob)
	NTResponse []byte // NTProofStr || blob
	LMResponse []byte // HMAC-MD5(key, serverChallenge||clientChallenge) || clientChallenge
}

// ComputeResponses derives the NT and LM responses from the NTLMv2 key,
// the 8-byte server challenge, the client challenge, and the blob
// built from the server's target info.
func ComputeResponses(ntlmv2Key []byte, serverChallenge [8]byte, clientChallenge [8]byte, blob []byte) Responses {
	ntInput := append(append([]byte{}, serverChallenge[:]...), blob...)
	ntProof := cryptoprim.HMACMD5(ntlmv2Key, ntInput)
	ntResponse := append(append([]byte{}, ntProof...), blob...)

	lmInput := append(append([]byte{}, serverChallenge[:]...), clientChallenge[:]...)
	lmHash := cryptoprim.HMACMD5(ntlmv2Key, lmInput)
	lmResponse := append(append([]byte{}, lmHash...), clientChallenge[:]...)

	return Responses{NTProofStr: ntProof, NTResponse: ntResponse, LMResponse: lmResponse}
}

// Challenge is the parsed NTLM_CHALLENGE (type 2) message the server
// returns inside a TDS SSPI token.
type Challenge struct {
	ServerChallenge [8]byte
	TargetInfo      []byte
}

// ParseChallenge decodes an NTLM_CHALLENGE message.
func ParseChallenge(msg []byte) (Challenge, error) {
	r := wire.NewReader(msg)
	if _, err := r.Bytes(8); err != nil { // signature "NTLMSSP\x00"
		return Challenge{}, err
	}
	if _, err := r.Uint32LE(); err != nil { // message type (2)
		return Challenge{}, err
	}
	if _, err := r.Bytes(8); err != nil { // target name fields (len,maxlen,offset)
		return Challenge{}, err
	}
	if _, err := r.Uint32LE(); err != nil { // negotiate flags
		return Challenge{}, err
	}
	chal, err := r.Bytes(8)
	if err != nil {
		return Challenge{}, err
	}
	var c Challenge
	copy(c.ServerChallenge[:], chal)
	if _, err := r.Bytes(8); err != nil { // reserved
		return Challenge{}, err
	}
	tiLen, err := r.Uint16LE()
	if err != nil {
		return Challenge{}, err
	}
	if _, err := r.Uint16LE(); err != nil { // target info max len
		return Challenge{}, err
	}
	tiOffset, err := r.Uint32LE()
	if err != nil {
		return Challenge{}, err
	}
	if int(tiOffset)+int(tiLen) > len(msg) {
		return Challenge{}, wire.ErrShortBuffer
	}
	c.TargetInfo = msg[tiOffset : tiOffset+uint32(tiLen)]
	return c, nil
}

// BuildNegotiate constructs the NTLM_NEGOTIATE message (type 1) carried
// in Login7's sspiData field.
func BuildNegotiate() []byte {
	w := wire.NewWriter()
	w.WriteBytes([]byte("NTLMSSP\x00"))
	w.WriteUint32LE(MsgNegotiate)
	w.WriteUint32LE(NegotiateFlags)
	// domain and workstation security buffers, both empty (OEM supplied externally)
	w.WriteUint16LE(0)
	w.WriteUint16LE(0)
	w.WriteUint32LE(0)
	w.WriteUint16LE(0)
	w.WriteUint16LE(0)
	w.WriteUint32LE(0)
	return w.Bytes()
}

// secBuffer is (len uint16, maxLen uint16, offset uint32) describing a
// payload region appended after the fixed AUTHENTICATE header.
type secBuffer struct {
	data []byte
}

// BuildAuthenticate constructs the NTLM_AUTHENTICATE message (type 3)
// packing LM/NT responses, domain, user, workstation (UTF-16LE), an
// empty session key, and the negotiate flags.
func BuildAuthenticate(resp Responses, domain, user, workstation string) []byte {
	domainU := wire.StringToUTF16LE(domain)
	userU := wire.StringToUTF16LE(user)
	wsU := wire.StringToUTF16LE(workstation)

	fields := []secBuffer{
		{resp.LMResponse},
		{resp.NTResponse},
		{domainU},
		{userU},
		{wsU},
		{nil}, // session key
	}

	const headerLen = 8 + 4 + 6*8 + 4
	offset := uint32(headerLen)
	w := wire.NewWriter()
	w.WriteBytes([]byte("NTLMSSP\x00"))
	w.WriteUint32LE(MsgAuthenticate)

	for _, f := range fields {
		n := uint16(len(f.data))
		w.WriteUint16LE(n)
		w.WriteUint16LE(n)
		w.WriteUint32LE(offset)
		offset += uint32(n)
	}
	w.WriteUint32LE(NegotiateFlags)

	for _, f := range fields {
		w.WriteBytes(f.data)
	}
	return w.Bytes()
}

// FiletimeFromUnix returns an NTLMv2 blob timestamp: a Windows FILETIME (100ns
// ticks since 1601-01-01 UTC) for the given Unix time components, kept
// as plain arithmetic rather than a package-level formatter cache.
func FiletimeFromUnix(unixSeconds int64, nanos int64) uint64 {
	const unixToFiletimeOffsetSeconds = 11644473600
	ticks := (unixSeconds + unixToFiletimeOffsetSeconds) * 10000000
	ticks += nanos / 100
	return uint64(ticks)
}
