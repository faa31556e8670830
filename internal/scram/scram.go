// Package scram implements the client side of SCRAM-SHA-256 (RFC 7677),
// factored out of the wire I/O so it can be driven by the PostgreSQL
// auth state machine (internal/pgwire/auth.go) instead of performing
// the exchange inline against a single dialed connection.
package scram

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/sqlbridge/sqlbridge/internal/cryptoprim"
)

const pbkdf2KeyLen = 32

// Client drives one SCRAM-SHA-256 client-first -> server-first ->
// client-final -> server-final exchange.
type Client struct {
	user            string
	password        string
	clientNonce     string
	clientFirstBare string
	authMessage     string
	saltedPassword  []byte
}

// NewClient creates a SCRAM client for the given credentials. nonce must
// be a fresh cryptographically random value (base64-encoded by the
// caller is not required; NewClient encodes it).
func NewClient(user, password string, nonceBytes []byte) *Client {
	return &Client{
		user:        user,
		password:    password,
		clientNonce: base64.StdEncoding.EncodeToString(nonceBytes),
	}
}

// FirstMessage returns the full client-first-message, including the
// "n,," gs2-header, to send as the SASL initial response.
func (c *Client) FirstMessage() string {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeUsername(c.user), c.clientNonce)
	return "n,," + c.clientFirstBare
}

// escapeUsername replaces "=" with "=3D" and "," with "=2C" per RFC 5802.
func escapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

// ServerFirst is the parsed "r=<nonce>,s=<salt>,i=<iterations>" message.
type ServerFirst struct {
	Nonce      string
	Salt       []byte
	Iterations int
}

// ParseServerFirst parses the server-first-message.
func ParseServerFirst(msg string) (ServerFirst, error) {
	var sf ServerFirst
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			sf.Nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err := base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return ServerFirst{}, fmt.Errorf("decoding salt: %w", err)
			}
			sf.Salt = salt
		case strings.HasPrefix(part, "i="):
			n, err := strconv.Atoi(part[2:])
			if err != nil {
				return ServerFirst{}, fmt.Errorf("parsing iteration count: %w", err)
			}
			sf.Iterations = n
		}
	}
	if sf.Nonce == "" || sf.Salt == nil || sf.Iterations == 0 {
		return ServerFirst{}, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return sf, nil
}

// FinalMessage computes client-final-message given the raw server-first
// text and its parsed form. It returns an error if the server nonce
// does not extend the client nonce.
func (c *Client) FinalMessage(serverFirstRaw string, sf ServerFirst) (string, error) {
	if !strings.HasPrefix(sf.Nonce, c.clientNonce) {
		return "", fmt.Errorf("server nonce does not start with client nonce")
	}

	c.saltedPassword = cryptoprim.PBKDF2HMACSHA256([]byte(c.password), sf.Salt, sf.Iterations, pbkdf2KeyLen)

	clientKey := cryptoprim.HMACSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := cryptoprim.SHA256(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, sf.Nonce)

	c.authMessage = c.clientFirstBare + "," + serverFirstRaw + "," + clientFinalWithoutProof

	clientSignature := cryptoprim.HMACSHA256(storedKey, []byte(c.authMessage))
	clientProof := cryptoprim.XOR(clientKey, clientSignature)

	return clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof), nil
}

// VerifyServerFinal checks "v=<signature>" against the expected server
// signature, returning an error (and never transitioning to a logged-in
// state) on mismatch.
func (c *Client) VerifyServerFinal(serverFinalRaw string) error {
	serverKey := cryptoprim.HMACSHA256(c.saltedPassword, []byte("Server Key"))
	expectedSig := cryptoprim.HMACSHA256(serverKey, []byte(c.authMessage))
	expected := "v=" + base64.StdEncoding.EncodeToString(expectedSig)
	if serverFinalRaw != expected {
		return fmt.Errorf("server signature mismatch")
	}
	return nil
}

// ParseMechanisms parses a null-terminated list of SASL mechanism names
// from an AuthenticationSASL payload (after the 4-byte auth type).
func ParseMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

// Contains reports whether mechs includes target.
func Contains(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}
