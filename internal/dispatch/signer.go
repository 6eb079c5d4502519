package dispatch

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	authScheme     = "ASC "
	authTimeLayout = "20060102150405"

	DefaultSignatureWindow = 5 * time.Minute
)

var (
	ErrBadSignature    = errors.New("bad signature")
	ErrSignatureExpiry = errors.New("signature outside of allowed window")
)

// Signer produces the machine-to-machine Authorization header understood by the hub.
type Signer struct {
	KeyID string
	Key   []byte
	Now   func() time.Time
}

func NewSigner(keyID, key string) *Signer {
	return &Signer{KeyID: keyID, Key: []byte(key), Now: time.Now}
}

func (s *Signer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Sign returns "ASC {keyId}:{yyyyMMddHHmmss}:{base64 HMAC-SHA1}" for the current UTC time.
func (s *Signer) Sign() string {
	ts := s.now().UTC().Format(authTimeLayout)
	return authScheme + s.KeyID + ":" + ts + ":" + s.mac(ts)
}

func (s *Signer) mac(ts string) string {
	h := hmac.New(sha1.New, s.Key)
	h.Write([]byte(ts + "\n" + s.KeyID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Verify checks an Authorization header produced with the same key. window <= 0
// uses DefaultSignatureWindow.
func (s *Signer) Verify(header string, window time.Duration) error {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	rest, ok := strings.CutPrefix(header, authScheme)
	if !ok {
		return fmt.Errorf("%w: scheme", ErrBadSignature)
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("%w: format", ErrBadSignature)
	}
	keyID, ts, sig := parts[0], parts[1], parts[2]
	if keyID != s.KeyID {
		return fmt.Errorf("%w: key id", ErrBadSignature)
	}
	at, err := time.ParseInLocation(authTimeLayout, ts, time.UTC)
	if err != nil {
		return fmt.Errorf("%w: timestamp", ErrBadSignature)
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(ts))) {
		return ErrBadSignature
	}
	if d := s.now().UTC().Sub(at); d > window || d < -window {
		return ErrSignatureExpiry
	}
	return nil
}
