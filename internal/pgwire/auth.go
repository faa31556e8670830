package pgwire

import (
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/sqlbridge/sqlbridge/internal/cryptoprim"
	"github.com/sqlbridge/sqlbridge/internal/dberr"
	"github.com/sqlbridge/sqlbridge/internal/scram"
)

// Authenticate drives the startup/auth exchange to completion: reads
// the Authentication message, dispatches on its subtype to cleartext,
// MD5, or SCRAM-SHA-256, and then drains ParameterStatus/
// BackendKeyData messages until ReadyForQuery. Uses the shared
// internal/scram client and internal/pgwire framing instead of ad hoc
// byte slicing directly against net.Conn.
func Authenticate(rw io.ReadWriter, username, password string) error {
	tag, payload, err := ReadMessage(rw)
	if err != nil {
		return err
	}
	if tag == TagErrorResponse {
		return ServerErrorFrom(payload)
	}
	if tag != TagAuthentication {
		return dberr.New(dberr.KindProtocol, "expected Authentication message")
	}
	if len(payload) < 4 {
		return dberr.New(dberr.KindProtocol, "truncated Authentication message")
	}
	authType := binary.BigEndian.Uint32(payload[:4])

	switch authType {
	case AuthOK:
		// trust/no-password auth
	case AuthCleartextPassword:
		if err := writeMsg(rw, BuildPasswordMessage(password)); err != nil {
			return err
		}
		if err := expectAuthOK(rw); err != nil {
			return err
		}
	case AuthMD5Password:
		if len(payload) < 8 {
			return dberr.New(dberr.KindProtocol, "truncated MD5 salt")
		}
		salt := payload[4:8]
		hashed := md5PasswordHash(username, password, salt)
		if err := writeMsg(rw, BuildPasswordMessage(hashed)); err != nil {
			return err
		}
		if err := expectAuthOK(rw); err != nil {
			return err
		}
	case AuthSASL:
		if err := scramAuth(rw, username, password, payload[4:]); err != nil {
			return err
		}
	default:
		return dberr.Unsupported("PostgreSQL authentication type")
	}

	return drainToReady(rw)
}

func md5PasswordHash(username, password string, salt []byte) string {
	inner := cryptoprim.MD5(append([]byte(password), []byte(username)...))
	outer := cryptoprim.MD5(append([]byte(hex.EncodeToString(inner)), salt...))
	return "md5" + hex.EncodeToString(outer)
}

func writeMsg(rw io.ReadWriter, tag byte, payload []byte) error {
	return WriteMessage(rw, tag, payload)
}

func expectAuthOK(rw io.ReadWriter) error {
	tag, payload, err := ReadMessage(rw)
	if err != nil {
		return err
	}
	if tag == TagErrorResponse {
		return ServerErrorFrom(payload)
	}
	if tag != TagAuthentication || len(payload) < 4 || binary.BigEndian.Uint32(payload[:4]) != AuthOK {
		return dberr.New(dberr.KindAuthenticationFailed, "authentication rejected")
	}
	return nil
}

func scramAuth(rw io.ReadWriter, username, password string, mechListPayload []byte) error {
	mechs := scram.ParseMechanisms(mechListPayload)
	if !scram.Contains(mechs, "SCRAM-SHA-256") {
		return dberr.Unsupported("server does not offer SCRAM-SHA-256")
	}

	nonce, err := cryptoprim.RandomBytes(18)
	if err != nil {
		return dberr.Wrap(dberr.KindConnection, "generating SCRAM nonce", err)
	}
	client := scram.NewClient(username, password, nonce)
	clientFirst := client.FirstMessage()

	if err := writeMsg(rw, BuildSASLInitialResponse("SCRAM-SHA-256", []byte(clientFirst))); err != nil {
		return err
	}

	tag, payload, err := ReadMessage(rw)
	if err != nil {
		return err
	}
	if tag == TagErrorResponse {
		return ServerErrorFrom(payload)
	}
	if tag != TagAuthentication || len(payload) < 4 || binary.BigEndian.Uint32(payload[:4]) != AuthSASLContinue {
		return dberr.New(dberr.KindProtocol, "expected AuthenticationSASLContinue")
	}
	serverFirstRaw := string(payload[4:])
	serverFirst, err := scram.ParseServerFirst(serverFirstRaw)
	if err != nil {
		return err
	}

	clientFinal, err := client.FinalMessage(serverFirstRaw, serverFirst)
	if err != nil {
		return err
	}
	if err := writeMsg(rw, BuildSASLResponse([]byte(clientFinal))); err != nil {
		return err
	}

	tag, payload, err = ReadMessage(rw)
	if err != nil {
		return err
	}
	if tag == TagErrorResponse {
		return ServerErrorFrom(payload)
	}
	if tag != TagAuthentication || len(payload) < 4 || binary.BigEndian.Uint32(payload[:4]) != AuthSASLFinal {
		return dberr.New(dberr.KindProtocol, "expected AuthenticationSASLFinal")
	}
	if err := client.VerifyServerFinal(string(payload[4:])); err != nil {
		return dberr.Wrap(dberr.KindAuthenticationFailed, "verifying server signature", err)
	}

	return expectAuthOK(rw)
}

func drainToReady(rw io.ReadWriter) error {
	for {
		tag, payload, err := ReadMessage(rw)
		if err != nil {
			return err
		}
		switch tag {
		case TagReadyForQuery:
			return nil
		case TagErrorResponse:
			return ServerErrorFrom(payload)
		case TagParameterStatus, TagBackendKeyData, TagNoticeResponse, TagNegotiateProtocol:
			continue
		default:
			continue
		}
	}
}
