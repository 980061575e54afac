package facilitator

import (
	"errors"
	"strings"

	"github.com/vnmchuo/x402-gateway/internal/x402"
)

const (
	HostedURL  = "https://api.cdp.coinbase.com/platform/v2/x402"
	DefaultURL = "https://x402.org/facilitator"
)

var ErrMissingCredentials = errors.New("mainnet facilitator requires CDP_API_KEY_ID and CDP_API_KEY_SECRET")

// Config is either Hosted or Network.
type Config interface {
	BaseURL() string
	DefaultNetwork() string
	Mode() string
}

// Hosted is the managed mainnet facilitator, authenticated with a CDP key.
type Hosted struct {
	KeyID     string
	KeySecret string
}

// Network is an unauthenticated facilitator reachable at URL.
type Network struct {
	URL string
}

func (Hosted) BaseURL() string { return HostedURL }
func (Hosted) DefaultNetwork() string { return x402.NetworkBase }
func (Hosted) Mode() string { return "hosted" }

func (n Network) BaseURL() string { return n.URL }
func (Network) DefaultNetwork() string { return x402.NetworkBaseSepolia }
func (Network) Mode() string { return "network" }

type Settings struct {
	Production bool
	KeyID      string
	KeySecret  string
	URL        string // ignored in production
}

// Select resolves the facilitator once at start-up. A production request
// without both CDP credentials is a configuration error.
func Select(s Settings) (Config, error) {
	if s.Production {
		if strings.TrimSpace(s.KeyID) == "" || strings.TrimSpace(s.KeySecret) == "" {
			return nil, ErrMissingCredentials
		}
		return Hosted{KeyID: s.KeyID, KeySecret: s.KeySecret}, nil
	}

	url := strings.TrimSpace(s.URL)
	if url == "" {
		url = DefaultURL
	}
	return Network{URL: strings.TrimRight(url, "/")}, nil
}
