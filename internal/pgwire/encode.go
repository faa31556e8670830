package pgwire

import "encoding/binary"

// Frontend message type tags.
const (
	tagQuery              = 'Q'
	tagPassword           = 'p'
	tagTerminate          = 'X'
)

// BuildStartupBody builds the Login startup message body (protocol
// version plus null-terminated key/value parameter pairs, terminated
// by a final zero byte) — no length prefix, WriteStartupMessage adds it.
func BuildStartupBody(params map[string]string) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, ProtocolVersion3)
	for _, k := range []string{"user", "database", "application_name", "client_encoding"} {
		if v, ok := params[k]; ok {
			body = append(body, k...)
			body = append(body, 0)
			body = append(body, v...)
			body = append(body, 0)
		}
	}
	body = append(body, 0)
	return body
}

// BuildQuery builds a simple-query ('Q') message for sql, which must
// already have placeholders rendered inline.
func BuildQuery(sql string) (byte, []byte) {
	payload := append([]byte(sql), 0)
	return tagQuery, payload
}

// BuildPasswordMessage builds a cleartext or pre-hashed password
// response ('p'); callers pass the already-computed MD5 "md5<hex>"
// string for MD5 auth, or the raw password for cleartext.
func BuildPasswordMessage(password string) (byte, []byte) {
	return tagPassword, append([]byte(password), 0)
}

// BuildSASLInitialResponse builds the SASLInitialResponse ('p')
// message carrying the chosen mechanism and client-first-message.
func BuildSASLInitialResponse(mechanism string, clientFirst []byte) (byte, []byte) {
	payload := append([]byte(mechanism), 0)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(clientFirst)))
	payload = append(payload, lenBuf...)
	payload = append(payload, clientFirst...)
	return tagPassword, payload
}

// BuildSASLResponse builds a SASLResponse ('p') message carrying the
// client-final-message.
func BuildSASLResponse(data []byte) (byte, []byte) {
	return tagPassword, data
}

// BuildTerminate builds the Terminate ('X') message.
func BuildTerminate() (byte, []byte) {
	return tagTerminate, nil
}
