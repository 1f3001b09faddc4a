package signer

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/ggonzalez94/solagent/internal/ledger"
)

const (
	EnvPrivateKey     = "SOLAGENT_PRIVATE_KEY"
	EnvPrivateKeyFile = "SOLAGENT_PRIVATE_KEY_FILE"

	KeySourceAuto = "auto"
	KeySourceEnv  = "env"
	KeySourceFile = "file"

	defaultKeypairRelativePath = "solagent/id.json"
	defaultKeypairHintPath     = "~/.config/solagent/id.json"
)

type LocalSigner struct {
	privateKey ed25519.PrivateKey
	publicKey  ledger.PublicKey
}

var _ Signer = (*LocalSigner)(nil)

func (s *LocalSigner) PublicKey() ledger.PublicKey {
	return s.publicKey
}

func (s *LocalSigner) SignMessage(message []byte) (ledger.Signature, error) {
	if s == nil || len(s.privateKey) != ed25519.PrivateKeySize {
		return ledger.Signature{}, errors.New("local signer is not initialized")
	}
	var sig ledger.Signature
	copy(sig[:], ed25519.Sign(s.privateKey, message))
	return sig, nil
}

func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	return NewLocalSignerFromInputs(source, "")
}

func NewLocalSignerFromInputs(source, privateKeyOverride string) (*LocalSigner, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		source = KeySourceAuto
	}
	privateKey := strings.TrimSpace(os.Getenv(EnvPrivateKey))
	privateKeyFile := strings.TrimSpace(os.Getenv(EnvPrivateKeyFile))
	if privateKeyFile == "" {
		privateKeyFile = discoverDefaultKeypairFile()
	}

	switch source {
	case KeySourceAuto:
		// Keep both values; loadPrivateKey applies env-before-file precedence.
	case KeySourceEnv:
		privateKeyFile = ""
	case KeySourceFile:
		privateKey = ""
	default:
		return nil, fmt.Errorf("unsupported key source %q (expected %s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile)
	}
	if strings.TrimSpace(privateKeyOverride) != "" {
		privateKey = strings.TrimSpace(privateKeyOverride)
		privateKeyFile = ""
	}
	return NewLocalSigner(LocalSignerConfig{PrivateKey: privateKey, PrivateKeyFile: privateKeyFile})
}

type LocalSignerConfig struct {
	// PrivateKey is a base58 64-byte keypair or 32-byte seed.
	PrivateKey string
	// PrivateKeyFile holds a JSON byte array keypair or a base58 string.
	PrivateKeyFile string
}

func NewLocalSigner(cfg LocalSignerConfig) (*LocalSigner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(pk)
}

// FromPrivateKey wraps an ed25519 key.
func FromPrivateKey(pk ed25519.PrivateKey) (*LocalSigner, error) {
	if len(pk) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length %d", len(pk))
	}
	pub, ok := pk.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key")
	}
	var key ledger.PublicKey
	copy(key[:], pub)
	return &LocalSigner{privateKey: pk, publicKey: key}, nil
}

func loadPrivateKey(cfg LocalSignerConfig) (ed25519.PrivateKey, error) {
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		return parseBase58Key(cfg.PrivateKey)
	}
	if strings.TrimSpace(cfg.PrivateKeyFile) != "" {
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read keypair file: %w", err)
		}
		return parseKeyFile(buf)
	}
	return nil, fmt.Errorf("missing signing key: pass --private-key, set %s or %s, or create %s", EnvPrivateKey, EnvPrivateKeyFile, defaultKeypairHintPath)
}

func parseKeyFile(buf []byte) (ed25519.PrivateKey, error) {
	clean := strings.TrimSpace(string(buf))
	if strings.HasPrefix(clean, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(clean), &ints); err != nil {
			return nil, fmt.Errorf("parse keypair file: %w", err)
		}
		raw := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("parse keypair file: byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
		return keyFromBytes(raw)
	}
	return parseBase58Key(clean)
}

func parseBase58Key(raw string) (ed25519.PrivateKey, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil, errors.New("empty private key")
	}
	buf, err := base58.Decode(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return keyFromBytes(buf)
}

func keyFromBytes(buf []byte) (ed25519.PrivateKey, error) {
	switch len(buf) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(buf), nil
	case ed25519.PrivateKeySize:
		pk := ed25519.NewKeyFromSeed(buf[:ed25519.SeedSize])
		if !pk.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(buf[ed25519.SeedSize:])) {
			return nil, errors.New("keypair public half does not match its seed")
		}
		return pk, nil
	default:
		return nil, fmt.Errorf("invalid key length %d (expected %d or %d bytes)", len(buf), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

func defaultKeypairPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultKeypairRelativePath)
}

func discoverDefaultKeypairFile() string {
	path := defaultKeypairPath()
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
