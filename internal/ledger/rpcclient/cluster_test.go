package rpcclient

import "testing"

func TestResolveRPCURL(t *testing.T) {
	got, err := ResolveRPCURL("", "Devnet")
	if err != nil {
		t.Fatalf("ResolveRPCURL failed: %v", err)
	}
	if got != "https://api.devnet.solana.com" {
		t.Fatalf("unexpected devnet url: %s", got)
	}
	if got, _ := ResolveRPCURL("", "mainnet"); got != "https://api.mainnet-beta.solana.com" {
		t.Fatalf("expected alias to resolve to mainnet-beta, got %s", got)
	}
	if got, _ := ResolveRPCURL(" https://rpc.example.com ", "devnet"); got != "https://rpc.example.com" {
		t.Fatalf("expected override to win, got %s", got)
	}
	if _, err := ResolveRPCURL("", "unknown"); err == nil {
		t.Fatal("expected error for unknown cluster")
	}
}
