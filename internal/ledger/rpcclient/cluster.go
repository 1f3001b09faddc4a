package rpcclient

import (
	"fmt"
	"sort"
	"strings"
)

var defaultRPCByCluster = map[string]string{
	"mainnet-beta": "https://api.mainnet-beta.solana.com",
	"devnet":       "https://api.devnet.solana.com",
	"testnet":      "https://api.testnet.solana.com",
	"localnet":     "http://127.0.0.1:8899",
}

var clusterAliases = map[string]string{
	"mainnet":        "mainnet-beta",
	"solana":         "mainnet-beta",
	"solana-mainnet": "mainnet-beta",
	"solana-devnet":  "devnet",
	"solana-testnet": "testnet",
	"localhost":      "localnet",
}

// NormalizeCluster maps aliases onto canonical cluster names.
func NormalizeCluster(cluster string) string {
	c := strings.ToLower(strings.TrimSpace(cluster))
	if alias, ok := clusterAliases[c]; ok {
		return alias
	}
	return c
}

func DefaultRPCURL(cluster string) (string, bool) {
	v, ok := defaultRPCByCluster[NormalizeCluster(cluster)]
	return v, ok
}

// ResolveRPCURL prefers an explicit override, then the cluster's public
// endpoint.
func ResolveRPCURL(override, cluster string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if v, ok := DefaultRPCURL(cluster); ok {
		return v, nil
	}
	return "", fmt.Errorf("no default rpc configured for cluster %q (known: %s); provide --rpc-url", cluster, strings.Join(Clusters(), ","))
}

func Clusters() []string {
	out := make([]string, 0, len(defaultRPCByCluster))
	for name := range defaultRPCByCluster {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
