package fetcher

import (
	"crypto/rand"
	"math/big"
)

// defaultIdentities are realistic browser identity strings. Rotating them
// reduces the chance of uniform-signature blocking; this is not a security
// mechanism.
var defaultIdentities = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
}

// identityPool selects a request identity uniformly at random. It is owned
// by the Fetcher that constructed it and is safe for concurrent use because
// the agent slice is never mutated after construction.
type identityPool struct {
	agents []string
}

func newIdentityPool(agents []string) *identityPool {
	if len(agents) == 0 {
		agents = defaultIdentities
	}
	return &identityPool{agents: append([]string(nil), agents...)}
}

func (p *identityPool) pick() string {
	if len(p.agents) == 1 {
		return p.agents[0]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.agents))))
	if err != nil {
		return p.agents[0]
	}
	return p.agents[n.Int64()]
}
