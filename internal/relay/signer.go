package relay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var ErrInvalidKey = errors.New("invalid relay private key")

// Envelope is an unsigned event as built from an action.
type Envelope struct {
	PubKey  string
	Kind    int
	Tags    nostr.Tags
	Content string
}

// Signer holds the process keypair. It is safe for concurrent use.
type Signer struct {
	secret string
	pubKey string
	now    func() time.Time
}

type SignerOption func(*Signer)

func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner accepts a 64-char hex secret key or a bech32 nsec.
func NewSigner(secret string, opts ...SignerOption) (*Signer, error) {
	sk, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	s := &Signer{secret: sk, pubKey: pk, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func parseSecret(secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	if strings.HasPrefix(secret, "nsec") {
		prefix, value, err := nip19.Decode(secret)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		sk, ok := value.(string)
		if prefix != "nsec" || !ok {
			return "", ErrInvalidKey
		}
		return sk, nil
	}
	if b, err := hex.DecodeString(secret); err != nil || len(b) != 32 {
		return "", ErrInvalidKey
	}
	return strings.ToLower(secret), nil
}

// PublicKey returns the hex x-only public key.
func (s *Signer) PublicKey() string {
	return s.pubKey
}

// Envelope builds the unsigned form of a under this signer's key.
func (s *Signer) Envelope(a Action) Envelope {
	return Envelope{
		PubKey:  s.pubKey,
		Kind:    a.Kind(),
		Tags:    a.Tags(),
		Content: a.Content(),
	}
}

// Sign stamps env with the current time and signs it.
func (s *Signer) Sign(env Envelope) (nostr.Event, error) {
	ev := nostr.Event{
		PubKey:    env.PubKey,
		CreatedAt: nostr.Timestamp(s.now().Unix()),
		Kind:      env.Kind,
		Tags:      env.Tags,
		Content:   env.Content,
	}
	if ev.PubKey != s.pubKey {
		return nostr.Event{}, fmt.Errorf("envelope pubkey %s does not match signer", env.PubKey)
	}
	if err := ev.Sign(s.secret); err != nil {
		return nostr.Event{}, fmt.Errorf("sign event: %w", err)
	}
	return ev, nil
}
