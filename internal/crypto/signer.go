package crypto

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// EIP-712 type hashes.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// SettlementReport(string pool,bytes32 contentHash)
	reportTypeHash = ethcrypto.Keccak256(
		[]byte("SettlementReport(string pool,bytes32 contentHash)"),
	)
)

const (
	reportDomainName    = "ProdePool"
	reportDomainVersion = "1"
)

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("crypto: signature does not match")

// Signer holds the operator key. It signs archived settlement reports with
// EIP-712 and API requests with personal_sign.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte
}

// NewSigner creates a Signer for key. chainID only feeds the EIP-712
// domain, no chain is contacted.
func NewSigner(key *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
		domainSep:  buildDomainSeparator(reportDomainName, reportDomainVersion, chainID),
	}
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignReport returns r with Signer and Signature filled in.
func (s *Signer) SignReport(r domain.Report) (domain.Report, error) {
	digest, err := reportDigest(s.domainSep, r)
	if err != nil {
		return domain.Report{}, err
	}
	sig, err := s.signDigest(digest)
	if err != nil {
		return domain.Report{}, err
	}
	r.Signer = s.address.Hex()
	r.Signature = sig
	return r, nil
}

// VerifyReport checks that r was signed by the address in r.Signer under
// chainID and returns that address.
func VerifyReport(r domain.Report, chainID int64) (common.Address, error) {
	if !common.IsHexAddress(r.Signer) {
		return common.Address{}, fmt.Errorf("crypto: report signer %q is not an address", r.Signer)
	}
	digest, err := reportDigest(buildDomainSeparator(reportDomainName, reportDomainVersion, chainID), r)
	if err != nil {
		return common.Address{}, err
	}
	got, err := recoverDigest(digest, r.Signature)
	if err != nil {
		return common.Address{}, err
	}
	if got != common.HexToAddress(r.Signer) {
		return common.Address{}, ErrBadSignature
	}
	return got, nil
}

// reportDigest hashes r without its signature fields.
func reportDigest(domainSep []byte, r domain.Report) ([]byte, error) {
	r.Signer = ""
	r.Signature = ""
	content, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("crypto: encode report: %w", err)
	}
	structHash := ethcrypto.Keccak256(
		concatBytes(
			reportTypeHash,
			ethcrypto.Keccak256([]byte(r.Pool)),
			ethcrypto.Keccak256(content),
		),
	)
	return eip712Hash(domainSep, structHash), nil
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest and returns the 0x-prefixed signature
// (r || s || v) with v in {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

// recoverDigest returns the address that produced sigHex over digest.
func recoverDigest(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
