package crypto

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
)

// Request authentication headers. The signature is an EIP-191
// personal_sign over timestamp+method+path+body, so any Ethereum wallet can
// produce it.
const (
	HeaderAddress   = "X-Prode-Address"
	HeaderTimestamp = "X-Prode-Timestamp"
	HeaderSignature = "X-Prode-Signature"
)

// RequestMessage is the text a client signs for one API request.
func RequestMessage(timestamp, method, path, body string) string {
	return timestamp + method + path + body
}

// RequestHeaders signs a request at the current time.
func (s *Signer) RequestHeaders(method, path, body string) (map[string]string, error) {
	return s.RequestHeadersAt(method, path, body, time.Now().Unix())
}

// RequestHeadersAt is like RequestHeaders with an explicit Unix timestamp.
func (s *Signer) RequestHeadersAt(method, path, body string, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)
	sig, err := s.signDigest(accounts.TextHash([]byte(RequestMessage(ts, method, path, body))))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}, nil
}

// RecoverRequestSigner returns the address that signed the request message.
func RecoverRequestSigner(timestamp, method, path, body, sigHex string) (common.Address, error) {
	addr, err := recoverDigest(accounts.TextHash([]byte(RequestMessage(timestamp, method, path, body))), sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: request signature: %w", err)
	}
	return addr, nil
}
