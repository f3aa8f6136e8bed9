// Package crypto holds the pool operator key: encrypted key files, EIP-712
// signatures over settlement reports, and signed API requests.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion = 2
	// defaultIterations is the OWASP minimum for PBKDF2-HMAC-SHA256. Files
	// record their own count so it can be raised without breaking old ones.
	defaultIterations = 600_000
	saltLen           = 16
)

// keyFile is the on-disk operator key. The address is authenticated as GCM
// additional data, so a file cannot be relabelled to another operator.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Iterations int            `json:"iterations"`
	Salt       hexutil.Bytes  `json:"salt"`
	Nonce      hexutil.Bytes  `json:"nonce"`
	Ciphertext hexutil.Bytes  `json:"ciphertext"`
}

// KeyConfig says where LoadKey finds the operator key.
type KeyConfig struct {
	// RawPrivateKey is a hex private key, 0x prefix optional. It wins over
	// EncryptedKeyPath.
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

func keyCipher(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals key under password and returns the key file contents.
func EncryptKey(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	kf := keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		Iterations: defaultIterations,
		Salt:       make([]byte, saltLen),
	}
	if _, err := rand.Read(kf.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := keyCipher(password, kf.Salt, kf.Iterations)
	if err != nil {
		return nil, fmt.Errorf("crypto: key cipher: %w", err)
	}
	kf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf.Ciphertext = aead.Seal(nil, kf.Nonce, ethcrypto.FromECDSA(key), kf.Address.Bytes())
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and checks that the key
// matches the address it was filed under.
func DecryptKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.Iterations <= 0 {
		return nil, errors.New("crypto: key file has no iteration count")
	}
	aead, err := keyCipher(password, kf.Salt, kf.Iterations)
	if err != nil {
		return nil, fmt.Errorf("crypto: key cipher: %w", err)
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return nil, errors.New("crypto: key file nonce has the wrong size")
	}
	raw, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, kf.Address.Bytes())
	if err != nil {
		return nil, errors.New("crypto: cannot decrypt key file (wrong password?)")
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(key.PublicKey); got != kf.Address {
		return nil, fmt.Errorf("crypto: key file is for %s but holds %s", kf.Address.Hex(), got.Hex())
	}
	return key, nil
}

// WriteKeyFile encrypts key to path with owner-only permissions. An existing
// file is not overwritten.
func WriteKeyFile(path string, key *ecdsa.PrivateKey, password string) error {
	data, err := EncryptKey(key, password)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	return f.Close()
}

// LoadKey resolves the operator key: the raw hex key when set, else the
// encrypted file opened with KeyPassword.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.RawPrivateKey != "":
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.RawPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: parse private key: %w", err)
		}
		return key, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return nil, errors.New("crypto: no operator key configured (set private_key or encrypted_key_path)")
	}
}
