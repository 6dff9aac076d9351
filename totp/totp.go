package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
)

//goland:noinspection SpellCheckingInspection
const codeChars = "23456789BCDFGHJKMNPQRTVWXY"

// State holds the mobile authenticator secrets of one account along with the measured clock offset to steam.
type State struct {
	sharedSecret   []byte
	identitySecret []byte
	offsetSeconds  atomic.Int64
}

func NewState(sharedSecret string, identitySecret string) (*State, error) {
	sharedKey, err := base64.StdEncoding.DecodeString(sharedSecret)
	if err != nil {
		return nil, eris.Wrap(err, "error decoding shared secret")
	}

	identityKey, err := base64.StdEncoding.DecodeString(identitySecret)
	if err != nil {
		return nil, eris.Wrap(err, "error decoding identity secret")
	}

	return &State{
		sharedSecret:   sharedKey,
		identitySecret: identityKey,
	}, nil
}

// SetOffset records how far steam's clock is ahead of ours.
func (s *State) SetOffset(offset time.Duration) {
	s.offsetSeconds.Store(int64(offset / time.Second))
}

// Now is the current steam server time.
func (s *State) Now() time.Time {
	return time.Now().UTC().Add(time.Duration(s.offsetSeconds.Load()) * time.Second)
}

func (s *State) GenerateTotpCode(at time.Time) (string, error) {
	if len(s.sharedSecret) == 0 {
		return "", eris.New("shared secret is empty")
	}

	timeBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(timeBytes, uint64(at.Unix())/30)

	mac := hmac.New(sha1.New, s.sharedSecret)
	mac.Write(timeBytes)
	hashcode := mac.Sum(nil)

	// low nibble of the last byte is the offset of the 4 byte window
	start := hashcode[19] & 0xf
	fullCode := int(binary.BigEndian.Uint32(hashcode[start:start+4]) & (1<<31 - 1))

	code := make([]byte, 5)
	for i := range code {
		code[i] = codeChars[fullCode%len(codeChars)]
		fullCode /= len(codeChars)
	}

	return string(code), nil
}

// Sign produces the base64 confirmation key for tag at the given steam time.
func (s *State) Sign(at time.Time, tag string) (string, error) {
	if len(s.identitySecret) == 0 {
		return "", eris.New("identity secret is empty")
	}

	tagBytes := []byte(tag)
	if len(tagBytes) > 32 {
		tagBytes = tagBytes[:32]
	}

	buffer := make([]byte, 8+len(tagBytes))
	binary.BigEndian.PutUint64(buffer, uint64(at.Unix()))
	copy(buffer[8:], tagBytes)

	mac := hmac.New(sha1.New, s.identitySecret)
	if _, err := mac.Write(buffer); err != nil {
		return "", eris.Wrap(err, "hmac write failed")
	}

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func GetDeviceId(steamID string) string {
	checksum := sha1.Sum([]byte(steamID))
	return fmt.Sprintf("android:%s", base64.StdEncoding.EncodeToString(checksum[:]))
}
