package loxone

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // the Miniserver handshake is specified as HMAC-SHA1
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// keyPathFormat is the endpoint returning the one-time HMAC key.
	// getkey2 keys are compatible with the encrypted-command token flow.
	keyPathFormat = "/jdev/sys/getkey2/%s"

	// tokenPathFormat embeds: hex HMAC, username, permission class,
	// request UUID, percent-encoded client info.
	tokenPathFormat = "/jdev/sys/getjwt/%s/%s/%d/%s/%s"

	// DefaultPermission requests Web-class access. Some installations
	// use 4 (App) for longer-lived tokens.
	DefaultPermission = 2

	// defaultTokenValidity applies when the token response does not
	// advertise an expiry.
	defaultTokenValidity = 30 * time.Minute
)

// TokenRequest carries the request-scoped parameters of a getjwt call.
// The zero value is usable; defaults are applied during path building.
type TokenRequest struct {
	Permission int
	UUID       string
	Info       string
}

// withDefaults fills unset fields: Web permission, a fresh random
// request UUID, and the loxbridge client-info tag.
func (r TokenRequest) withDefaults() TokenRequest {
	if r.Permission == 0 {
		r.Permission = DefaultPermission
	}
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	}
	if r.Info == "" {
		r.Info = "loxbridge"
	}
	return r
}

// looksLikeHex reports whether s is plausible hex: non-empty, even
// length, hex digits only.
func looksLikeHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// isASCII reports whether every byte is 7-bit ASCII.
func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// decodeKey turns a getkey2 key string into HMAC key bytes.
//
// The Miniserver sometimes returns the key as hex bytes, and sometimes
// as hex of ASCII text that is itself hex (double-encoded). Non-hex
// strings are used as raw UTF-8 bytes. A double-encoded key is decoded
// exactly twice, never a third time.
func decodeKey(key string) []byte {
	k := strings.TrimSpace(key)

	if !looksLikeHex(k) {
		return []byte(k)
	}

	b1, err := hex.DecodeString(k)
	if err != nil {
		return []byte(k)
	}

	if isASCII(b1) {
		if inner := strings.TrimSpace(string(b1)); looksLikeHex(inner) {
			if b2, err := hex.DecodeString(inner); err == nil {
				return b2
			}
		}
	}

	return b1
}

// sha1Hex returns the lowercase hex SHA-1 digest of data.
func sha1Hex(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec // dictated by the wire protocol
	return hex.EncodeToString(sum[:])
}

// percentEncode strictly percent-encodes s (spaces become %20, not +),
// matching what the Miniserver expects for the client-info segment.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// buildTokenPath constructs the getjwt request path for the given
// credentials and one-time key.
//
// The username is trimmed of surrounding whitespace and embedded in the
// path unmodified. The password is stripped of trailing CR/LF only (a
// common artefact of reading secrets from files or env vars) before
// hashing; no other mutation is applied.
//
// The HMAC message is "{user}:{SHA1(password)}" keyed with the decoded
// key bytes. The result is deterministic for a fixed request UUID.
func buildTokenPath(user, password, key string, req TokenRequest) string {
	user = strings.TrimSpace(user)
	password = strings.TrimRight(password, "\r\n")

	keyBytes := decodeKey(key)
	pwHash := sha1Hex([]byte(password))

	mac := hmac.New(sha1.New, keyBytes)
	mac.Write([]byte(user + ":" + pwHash))
	hmacHex := hex.EncodeToString(mac.Sum(nil))

	req = req.withDefaults()
	return fmt.Sprintf(tokenPathFormat, hmacHex, user, req.Permission, req.UUID, percentEncode(req.Info))
}

// parseKeyResponse extracts the one-time key from a getkey2 body.
func parseKeyResponse(body []byte) (string, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return "", fmt.Errorf("%w: invalid key response: %w", ErrAuthentication, err)
	}
	key, ok := env.keyString()
	if !ok {
		return "", fmt.Errorf("%w: key response missing value", ErrAuthentication)
	}
	return key, nil
}

// parseTokenResponse extracts the session token and its expiry from a
// getjwt body.
//
// Expiry resolution order: the envelope's controlInfo.validUntil epoch,
// the exp claim of the token itself when it parses as a JWT, and
// finally now plus the default validity window.
func parseTokenResponse(body []byte, now time.Time) (*TokenInfo, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token response: %w", ErrAuthentication, err)
	}

	token, ok := env.valueString()
	if !ok || token == "" {
		return nil, fmt.Errorf("%w: no token in response", ErrAuthentication)
	}

	validUntil := time.Time{}
	if env.ControlInfo != nil && env.ControlInfo.ValidUntil > 0 {
		validUntil = time.Unix(int64(env.ControlInfo.ValidUntil), 0)
	} else if exp, ok := jwtExpiry(token); ok {
		validUntil = exp
	}
	if validUntil.IsZero() {
		validUntil = now.Add(defaultTokenValidity)
	}

	return &TokenInfo{Token: token, ValidUntil: validUntil}, nil
}

// jwtExpiry reads the exp claim from a JWT without verifying its
// signature. The token is the Miniserver's own credential; we only
// need its advertised lifetime, not its authenticity.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
