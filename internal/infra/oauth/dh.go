package oauth

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/coachpo/asxtrader/errs"
)

// DHGenerator is the broker's fixed Diffie-Hellman generator.
const DHGenerator = 2

var (
	bigOne   = big.NewInt(1)
	bigTwo   = big.NewInt(2)
	bigThree = big.NewInt(3)
)

// DHChallenge is one ephemeral key pair. It belongs to a single exchange attempt.
type DHChallenge struct {
	prime   *big.Int
	private *big.Int
	public  *big.Int
}

// ParseDHPrime decodes the hex prime supplied by the broker.
func ParseDHPrime(raw string) (*big.Int, error) {
	cleaned := strings.Join(strings.Fields(raw), "")
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	if cleaned == "" {
		return nil, errs.New(component, errs.CodeConfiguration, errs.WithMessage("dh prime empty"))
	}
	p, ok := new(big.Int).SetString(cleaned, 16)
	if !ok {
		return nil, errs.New(component, errs.CodeConfiguration, errs.WithMessage("dh prime is not valid hex"))
	}
	if p.Cmp(big.NewInt(5)) < 0 {
		return nil, errs.New(component, errs.CodeConfiguration, errs.WithMessage("dh prime too small"))
	}
	return p, nil
}

// NewDHChallenge draws a private exponent in [2, p-2] from r and computes g^x mod p.
// A nil reader means crypto/rand.
func NewDHChallenge(r io.Reader, prime *big.Int) (*DHChallenge, error) {
	if prime == nil || prime.Cmp(big.NewInt(5)) < 0 {
		return nil, errs.New(component, errs.CodeConfiguration, errs.WithMessage("dh prime required"))
	}
	if r == nil {
		r = rand.Reader
	}
	// Eight extra bytes keep the modular reduction bias negligible.
	buf := make([]byte, (prime.BitLen()+7)/8+8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read dh entropy: %w", err)
	}
	x := new(big.Int).SetBytes(buf)
	zero(buf)
	x.Mod(x, new(big.Int).Sub(prime, bigThree))
	x.Add(x, bigTwo)

	return &DHChallenge{
		prime:   prime,
		private: x,
		public:  new(big.Int).Exp(bigTwo, x, prime),
	}, nil
}

// PublicHex returns the public value as lower-case hex without padding.
func (c *DHChallenge) PublicHex() string {
	if c == nil || c.public == nil {
		return ""
	}
	return c.public.Text(16)
}

// SharedSecret combines the broker's hex public value with this challenge.
func (c *DHChallenge) SharedSecret(theirPublicHex string) ([]byte, error) {
	if c == nil || c.private == nil {
		return nil, fmt.Errorf("dh challenge discarded")
	}
	theirs, ok := new(big.Int).SetString(strings.TrimSpace(theirPublicHex), 16)
	if !ok {
		return nil, fmt.Errorf("dh response is not valid hex")
	}
	return ComputeSharedSecret(theirs, c.private, c.prime)
}

// Discard zeroes the private exponent. The challenge is unusable afterwards.
func (c *DHChallenge) Discard() {
	if c == nil || c.private == nil {
		return
	}
	words := c.private.Bits()
	for i := range words {
		words[i] = 0
	}
	c.private = nil
}

// ComputeSharedSecret returns theirPublic^ourPrivate mod prime, left-padded with zero
// bytes to the byte length of the prime.
func ComputeSharedSecret(theirPublic, ourPrivate, prime *big.Int) ([]byte, error) {
	if theirPublic == nil || ourPrivate == nil || prime == nil {
		return nil, fmt.Errorf("dh inputs required")
	}
	upper := new(big.Int).Sub(prime, bigOne)
	if theirPublic.Cmp(bigOne) <= 0 || theirPublic.Cmp(upper) >= 0 {
		return nil, fmt.Errorf("dh public value out of range")
	}
	k := new(big.Int).Exp(theirPublic, ourPrivate, prime)
	out := make([]byte, (prime.BitLen()+7)/8)
	return k.FillBytes(out), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
