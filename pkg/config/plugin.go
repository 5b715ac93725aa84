package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// PluginOption is a lightningd command-line option registered through the
// plugin manifest and written into viper at init.
type PluginOption struct {
	Name        string
	Key         string
	Type        string
	Default     string
	Description string
}

// PluginOptions lists the options announced in getmanifest.
func PluginOptions() []PluginOption {
	return []PluginOption{
		{Name: "chainbridge-client", Key: KeyBackend, Type: "string", Default: "esplora",
			Description: "Blockchain data source: nakamoto, esplora or bitcoind"},
		{Name: "chainbridge-esplora-url", Key: KeyEsploraURLs, Type: "string",
			Description: "Comma separated Esplora base URLs, overriding the network default"},
		{Name: "chainbridge-peers", Key: KeyLightClientPeers, Type: "string",
			Description: "Comma separated host:port peers for the light client"},
		{Name: "chainbridge-cache", Key: KeyCacheEngine, Type: "string", Default: CacheBolt,
			Description: "Block cache engine: bolt, badger or none"},
		{Name: "chainbridge-health-addr", Key: KeyHealthAddr, Type: "string",
			Description: "Listen address of the gRPC health service"},
		{Name: "bitcoin-rpcconnect", Key: KeyBitcoindHost, Type: "string",
			Description: "bitcoind RPC host:port"},
		{Name: "bitcoin-rpcuser", Key: KeyBitcoindUser, Type: "string",
			Description: "bitcoind RPC user"},
		{Name: "bitcoin-rpcpassword", Key: KeyBitcoindPassword, Type: "string",
			Description: "bitcoind RPC password"},
	}
}

// ApplyPluginOptions writes option values received at init into v. Unknown
// names are ignored; lightningd sends every registered option.
func ApplyPluginOptions(v *viper.Viper, options map[string]interface{}) {
	for _, opt := range PluginOptions() {
		raw, ok := options[opt.Name]
		if !ok || raw == nil {
			continue
		}
		s := fmt.Sprint(raw)
		if s == "" {
			continue
		}
		switch opt.Key {
		case KeyEsploraURLs, KeyLightClientPeers:
			v.Set(opt.Key, splitList(s))
		default:
			v.Set(opt.Key, s)
		}
	}
}

// LightningdConfig is the subset of the init "configuration" object used.
type LightningdConfig struct {
	LightningDir   string           `json:"lightning-dir"`
	Network        string           `json:"network"`
	AlwaysUseProxy bool             `json:"always_use_proxy"`
	Proxy          *LightningdProxy `json:"proxy,omitempty"`
}

// LightningdProxy is lightningd's configured SOCKS proxy.
type LightningdProxy struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// ApplyLightningdConfig writes the network, data directory and Tor proxy
// lightningd reports into v.
func ApplyLightningdConfig(v *viper.Viper, lc LightningdConfig) {
	if lc.Network != "" {
		v.Set(KeyNetwork, lc.Network)
	}
	if lc.LightningDir != "" && v.GetString(KeyDataDir) == "" {
		v.Set(KeyDataDir, strings.TrimRight(lc.LightningDir, "/")+"/chainbridge")
	}
	if lc.AlwaysUseProxy && lc.Proxy != nil && lc.Proxy.Address != "" {
		v.Set(KeyProxy, fmt.Sprintf("socks5://%s:%d", lc.Proxy.Address, lc.Proxy.Port))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
