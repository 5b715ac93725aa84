package backend

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/fortiblox/chainbridge/internal/types"
)

// bip70 chain names as reported by bitcoind's getblockchaininfo.
const (
	ChainMain     = "main"
	ChainTest     = "test"
	ChainTestnet4 = "testnet4"
	ChainSignet   = "signet"
	ChainRegtest  = "regtest"
	ChainLiquid   = "liquidv1"
)

// ErrUnknownNetwork is returned for a network name with no known parameters.
var ErrUnknownNetwork = errors.New("unknown network")

// Genesis hashes not carried by chaincfg.
var (
	testnet4Genesis = types.MustHashFromHex("00000000da84f2bafbbc53dee25a72ae507ff4914b867c565be350b0da8bf043")
	liquidGenesis   = types.MustHashFromHex("1466275836220db2944ca059a3a10ef6fd2ea684b0688d2c379296888a206003")
)

var genesisToChain = map[chainhash.Hash]string{
	*chaincfg.MainNetParams.GenesisHash:       ChainMain,
	*chaincfg.TestNet3Params.GenesisHash:      ChainTest,
	*chaincfg.SigNetParams.GenesisHash:        ChainSignet,
	*chaincfg.RegressionNetParams.GenesisHash: ChainRegtest,
	testnet4Genesis:                           ChainTestnet4,
	liquidGenesis:                             ChainLiquid,
}

// NetworkFromGenesis identifies the bip70 chain name from a genesis block
// hash. An unrecognized hash is a protocol fault: the backend is serving a
// chain this plugin cannot name.
func NetworkFromGenesis(genesis chainhash.Hash) (string, error) {
	if name, ok := genesisToChain[genesis]; ok {
		return name, nil
	}
	return "", ProtocolFault("unrecognized genesis hash %s", genesis)
}

// ParamsForNetwork maps a lightningd network name (bitcoin, testnet, signet,
// regtest) or a bip70 chain name to btcd chain parameters.
func ParamsForNetwork(name string) (*chaincfg.Params, error) {
	switch name {
	case "bitcoin", "mainnet", ChainMain:
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", ChainTest:
		return &chaincfg.TestNet3Params, nil
	case ChainSignet:
		return &chaincfg.SigNetParams, nil
	case ChainRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}
