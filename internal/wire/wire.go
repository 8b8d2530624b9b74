// Package wire implements the framed message codec of the GATT credential
// presentation protocol: builders and parsers for the five message types
// exchanged between the client and the reader. Every function is a stateless
// transform that owns its own length and type checks; none of them touch the
// transport.
package wire

import (
	"errors"
	"fmt"

	"github.com/fieldgate/credcore/internal/cryptutil"
)

// Message type bytes. Every frame begins with one of these.
const (
	TypeAuthRequest       byte = 0x01
	TypeAuthResponse      byte = 0x02
	TypeCredential        byte = 0x03
	TypeCredentialResp    byte = 0x04
	TypeError             byte = 0xFF
	nonceSize                  = 16
	authRequestLen             = 1 + 16 + 16 + 32 // type + device_id + iv + enc(nonce_M)
	authResponseLen            = 1 + 16 + 48      // type + iv + enc(nonce_M||nonce_R)
	credentialRespLen          = 2                // type + status
	errorFrameLen              = 2                // type + error_code
)

// Status codes carried in CREDENTIAL_RESPONSE (spec §6).
const (
	StatusSuccess       byte = 0x00
	StatusRejected      byte = 0x01
	StatusExpired       byte = 0x02
	StatusRevoked       byte = 0x03
	StatusInvalidFormat byte = 0x04
)

var statusMessages = map[byte]string{
	StatusSuccess:       "Access granted",
	StatusRejected:      "Access denied",
	StatusExpired:       "Credential expired",
	StatusRevoked:       "Credential revoked",
	StatusInvalidFormat: "Invalid credential",
}

// Error codes carried in ERROR frames (spec §6).
const (
	ErrCodeInvalidMessage   byte = 0x01
	ErrCodeUnknownDevice    byte = 0x02
	ErrCodeDecryptionFailed byte = 0x03
	ErrCodeInvalidState     byte = 0x04
	ErrCodeAuthFailed       byte = 0x05
	ErrCodeTimeout          byte = 0x06
)

var errorCodeMessages = map[byte]string{
	ErrCodeInvalidMessage:   "Communication error",
	ErrCodeUnknownDevice:    "Device not recognized",
	ErrCodeDecryptionFailed: "Authentication failed",
	ErrCodeInvalidState:     "Protocol error",
	ErrCodeAuthFailed:       "Authentication failed",
	ErrCodeTimeout:          "Reader timeout",
}

var (
	ErrEmptyResponse   = errors.New("wire: empty response")
	ErrUnexpectedType  = errors.New("wire: unexpected message type")
	ErrResponseTooShort = errors.New("wire: response too short")
	ErrUnknownStatus   = errors.New("wire: unknown status code")
	ErrUnknownError    = errors.New("wire: unknown error code")
	ErrNonceMismatch   = errors.New("wire: nonce mismatch")
)

// ReaderError wraps a known ERROR-frame error code from the reader.
type ReaderError struct {
	Code    byte
	Message string
}

func (e *ReaderError) Error() string {
	return fmt.Sprintf("wire: reader error 0x%02x: %s", e.Code, e.Message)
}

// parseErrorFrame inspects a would-be ERROR frame. It returns (err, true) if
// data is an ERROR frame (known or not), or (nil, false) if it is not an
// ERROR frame at all.
func parseErrorFrame(data []byte) (error, bool) {
	if len(data) == 0 || data[0] != TypeError {
		return nil, false
	}
	if len(data) < errorFrameLen {
		return ErrResponseTooShort, true
	}
	code := data[1]
	msg, known := errorCodeMessages[code]
	if !known {
		return ErrUnknownError, true
	}
	return &ReaderError{Code: code, Message: msg}, true
}

// AuthRequest is the result of BuildAuthRequest: the wire bytes to send and
// the fresh nonce_M the caller must retain to validate the echo.
type AuthRequest struct {
	Bytes  []byte
	NonceM []byte
}

// BuildAuthRequest generates a fresh nonce_M, encrypts it under deviceKey
// with a fresh iv, and frames it with the device identity.
func BuildAuthRequest(deviceID, deviceKey []byte) (AuthRequest, error) {
	if len(deviceID) != 16 {
		return AuthRequest{}, fmt.Errorf("wire: device_id must be 16 bytes, got %d", len(deviceID))
	}

	nonceM, err := cryptutil.Random(nonceSize)
	if err != nil {
		return AuthRequest{}, err
	}

	enc, err := cryptutil.Encrypt(deviceKey, nonceM, nil)
	if err != nil {
		return AuthRequest{}, err
	}

	buf := make([]byte, 0, authRequestLen)
	buf = append(buf, TypeAuthRequest)
	buf = append(buf, deviceID...)
	buf = append(buf, enc.IV...)
	buf = append(buf, enc.Ciphertext...)

	return AuthRequest{Bytes: buf, NonceM: nonceM}, nil
}

// ParseAuthResponse validates and decodes an AUTH_RESPONSE frame, following
// the eight numbered steps of the wire spec. It returns nonce_R on success.
func ParseAuthResponse(data, deviceKey, expectedNonceM []byte) ([]byte, error) {
	// 1. Empty response.
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}

	// 2. ERROR frame.
	if err, isError := parseErrorFrame(data); isError {
		return nil, err
	}

	// 3. Type check.
	if data[0] != TypeAuthResponse {
		return nil, ErrUnexpectedType
	}

	// 4. Length check.
	if len(data) < authResponseLen {
		return nil, ErrResponseTooShort
	}
	if len(data) > authResponseLen {
		return nil, fmt.Errorf("wire: auth response length %d, want %d", len(data), authResponseLen)
	}

	// 5. Decrypt.
	iv := data[1:17]
	ciphertext := data[17:65]
	plaintext, err := cryptutil.Decrypt(deviceKey, iv, ciphertext)
	if err != nil {
		return nil, err
	}

	// 6. Decrypted length check.
	if len(plaintext) != 32 {
		return nil, fmt.Errorf("%w: decrypted length %d, want 32", ErrResponseTooShort, len(plaintext))
	}

	// 7. Constant-time nonce echo comparison.
	gotNonceM := plaintext[0:16]
	if !cryptutil.ConstantTimeEqual(gotNonceM, expectedNonceM) {
		return nil, ErrNonceMismatch
	}

	// 8. Extract nonce_R.
	nonceR := plaintext[16:32]
	return nonceR, nil
}

// BuildCredential encrypts the UTF-8 credential bytes under deviceKey and
// frames them with a fresh iv.
func BuildCredential(deviceKey []byte, credential string) ([]byte, error) {
	enc, err := cryptutil.Encrypt(deviceKey, []byte(credential), nil)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 1+16+len(enc.Ciphertext))
	buf = append(buf, TypeCredential)
	buf = append(buf, enc.IV...)
	buf = append(buf, enc.Ciphertext...)
	return buf, nil
}

// CredentialResult is the decoded outcome of a CREDENTIAL_RESPONSE frame.
type CredentialResult struct {
	Success bool
	Message string
}

// ParseCredentialResponse validates and decodes a CREDENTIAL_RESPONSE frame.
func ParseCredentialResponse(data []byte) (CredentialResult, error) {
	if len(data) == 0 {
		return CredentialResult{}, ErrEmptyResponse
	}

	if err, isError := parseErrorFrame(data); isError {
		return CredentialResult{}, err
	}

	if data[0] != TypeCredentialResp {
		return CredentialResult{}, ErrUnexpectedType
	}
	if len(data) < credentialRespLen {
		return CredentialResult{}, ErrResponseTooShort
	}

	status := data[1]
	msg, known := statusMessages[status]
	if !known {
		return CredentialResult{}, ErrUnknownStatus
	}

	return CredentialResult{Success: status == StatusSuccess, Message: msg}, nil
}
