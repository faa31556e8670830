package tds

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/ntlm"
	"github.com/sqlbridge/sqlbridge/internal/wire"
)

// Upgrader switches an established TDS transport to TLS, mirroring
// mysqlwire.Upgrader (pgwire instead upgrades inline in its Dial). It is
// dependency-injected, so the state machine stays testable over
// net.Pipe without a real cert.
type Upgrader func(io.ReadWriter) (io.ReadWriter, error)

// LoginParams configures one TDS login exchange.
type LoginParams struct {
	Username   string
	Password   string
	Database   string
	Hostname   string
	AppName    string
	ServerName string
	Domain     string // non-empty selects NTLMv2 SSPI authentication
	PacketSize uint32
	UseTLS     bool
	Upgrade    Upgrader
}

// Authenticate drives PreLogin negotiation, optional TLS upgrade, and
// the LOGIN7 exchange (SQL authentication or NTLMv2 SSPI, grounded on
// internal/ntlm) to completion, returning the transport to keep using
// (possibly upgraded to TLS) and the server's LOGINACK.
func Authenticate(ctx context.Context, rw io.ReadWriter, p LoginParams) (io.ReadWriter, LoginAck, error) {
	encryptOpt := EncryptOff
	if p.UseTLS {
		encryptOpt = EncryptOn
	}
	if err := WritePacket(rw, PacketPreLogin, BuildPreLogin(encryptOpt), DefaultPacketSize); err != nil {
		return rw, LoginAck{}, err
	}
	pktType, body, err := ReadMessage(rw)
	if err != nil {
		return rw, LoginAck{}, err
	}
	if pktType != PacketTabularResult {
		return rw, LoginAck{}, dberr.New(dberr.KindProtocol, "expected PRELOGIN response")
	}
	opts, err := ParsePreLoginResponse(body)
	if err != nil {
		return rw, LoginAck{}, err
	}
	serverEnc := EncryptionOf(opts)

	if p.UseTLS && serverEnc != EncryptNotSup && p.Upgrade != nil {
		upgraded, err := p.Upgrade(rw)
		if err != nil {
			return rw, LoginAck{}, err
		}
		rw = upgraded
	} else if p.UseTLS {
		return rw, LoginAck{}, dberr.New(dberr.KindTLS, "server does not support encryption")
	}

	loginOpts := LoginOptions{
		Hostname:   p.Hostname,
		AppName:    p.AppName,
		ServerName: p.ServerName,
		Database:   p.Database,
		Language:   "",
		ClientPID:  uint32(os.Getpid()),
		PacketSize: p.PacketSize,
	}
	if loginOpts.PacketSize == 0 {
		loginOpts.PacketSize = DefaultPacketSize
	}

	if p.Domain != "" {
		loginOpts.UseNTLM = true
		loginOpts.SSPIPayload = ntlm.BuildNegotiate()
		if err := WritePacket(rw, PacketLogin7, BuildLogin7(p.Username, p.Password, loginOpts), DefaultPacketSize); err != nil {
			return rw, LoginAck{}, err
		}
		if err := ntlmChallengeResponse(rw, p); err != nil {
			return rw, LoginAck{}, err
		}
	} else {
		if err := WritePacket(rw, PacketLogin7, BuildLogin7(p.Username, p.Password, loginOpts), DefaultPacketSize); err != nil {
			return rw, LoginAck{}, err
		}
	}

	ack, err := readLoginResponse(rw)
	return rw, ack, err
}

// ntlmChallengeResponse reads the server's SSPI CHALLENGE token,
// computes the NTLMv2 responses via internal/ntlm, and sends the
// AUTHENTICATE message back as a second SSPI packet.
func ntlmChallengeResponse(rw io.ReadWriter, p LoginParams) error {
	pktType, body, err := ReadMessage(rw)
	if err != nil {
		return err
	}
	if pktType != PacketTabularResult {
		return dberr.New(dberr.KindProtocol, "expected SSPI challenge response")
	}
	r := wire.NewReader(body)
	tokenType, err := r.Byte()
	if err != nil {
		return err
	}
	if tokenType != TokenSSPI {
		return dberr.New(dberr.KindProtocol, "expected SSPI token")
	}
	length, err := r.Uint16LE()
	if err != nil {
		return err
	}
	msgBytes, err := r.Bytes(int(length))
	if err != nil {
		return err
	}

	challenge, err := ntlm.ParseChallenge(msgBytes)
	if err != nil {
		return dberr.Wrap(dberr.KindAuthenticationFailed, "parsing NTLM challenge", err)
	}

	ntHash := ntlm.NTHash(p.Password)
	key := ntlm.NTLMv2Hash(ntHash, p.Username, p.Domain)

	var clientChallenge [8]byte
	blob := ntlm.Blob(ntlm.FiletimeFromUnix(nowUnix(), 0), clientChallenge, challenge.TargetInfo)
	responses := ntlm.ComputeResponses(key, challenge.ServerChallenge, clientChallenge, blob)
	authenticate := ntlm.BuildAuthenticate(responses, p.Domain, p.Username, p.Hostname)

	return WritePacket(rw, PacketSSPI, authenticate, DefaultPacketSize)
}

// nowUnix is a seam so tests can supply a fixed NTLMv2 blob timestamp
// instead of depending on wall-clock time.
var nowUnix = func() int64 { return time.Now().Unix() }

func readLoginResponse(rw io.ReadWriter) (LoginAck, error) {
	var ack LoginAck
	for {
		pktType, body, err := ReadMessage(rw)
		if err != nil {
			return ack, err
		}
		if pktType != PacketTabularResult {
			return ack, dberr.New(dberr.KindProtocol, "expected tabular result during login")
		}
		r := wire.NewReader(body)
		for r.Len() > 0 {
			tok, err := r.Byte()
			if err != nil {
				return ack, err
			}
			switch tok {
			case TokenLoginAck:
				ack, err = DecodeLoginAck(r)
				if err != nil {
					return ack, err
				}
			case TokenEnvChange:
				if _, err := DecodeEnvChange(r); err != nil {
					return ack, err
				}
			case TokenInfo:
				if _, err := DecodeServerMessage(r); err != nil {
					return ack, err
				}
			case TokenError:
				msg, err := DecodeServerMessage(r)
				if err != nil {
					return ack, err
				}
				return ack, msg.ServerError()
			case TokenFeatureExtAck:
				if err := SkipFeatureExtAck(r); err != nil {
					return ack, err
				}
			case TokenDone, TokenDoneProc, TokenDoneInProc:
				done, err := DecodeDone(r)
				if err != nil {
					return ack, err
				}
				if done.IsFinal {
					return ack, nil
				}
			default:
				return ack, dberr.Unsupported("login token " + itoaTDS(int(tok)))
			}
		}
	}
}
