package backend

import "fmt"

// Kind identifies which concrete data source backs the plugin.
type Kind uint8

const (
	// LightClient is a BIP157/158 compact-filter client.
	LightClient Kind = iota + 1

	// Explorer is an Esplora-compatible block explorer HTTP API.
	Explorer

	// FullNode is a bitcoind JSON-RPC endpoint.
	FullNode
)

// Configuration tokens for each kind.
const (
	TokenLightClient = "nakamoto"
	TokenExplorer    = "esplora"
	TokenFullNode    = "bitcoind"
)

// DefaultKind is used when no backend is configured.
const DefaultKind = Explorer

// Kinds returns every supported kind in declaration order.
func Kinds() []Kind {
	return []Kind{LightClient, Explorer, FullNode}
}

// ParseKind converts a configuration token into a Kind. Matching is exact and
// case-sensitive.
func ParseKind(token string) (Kind, error) {
	switch token {
	case TokenLightClient:
		return LightClient, nil
	case TokenExplorer:
		return Explorer, nil
	case TokenFullNode:
		return FullNode, nil
	default:
		return 0, &UnsupportedBackendError{Token: token}
	}
}

// String returns the configuration token of the kind.
func (k Kind) String() string {
	switch k {
	case LightClient:
		return TokenLightClient
	case Explorer:
		return TokenExplorer
	case FullNode:
		return TokenFullNode
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= LightClient && k <= FullNode
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, &UnsupportedBackendError{Token: k.String()}
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
