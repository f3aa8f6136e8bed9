package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/crypto"
)

// DefaultMaxSkew bounds how far a request timestamp may drift from the
// server clock.
const DefaultMaxSkew = 5 * time.Minute

// maxSignedBody caps the body read for signature verification.
const maxSignedBody = 1 << 20

type callerKey struct{}

// CallerFrom returns the authenticated caller set by SignatureAuth.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller returns ctx carrying addr as the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// SignatureAuth authenticates mutating requests by their personal_sign
// signature over timestamp+method+path+body. The recovered signer must match
// the X-Prode-Address header and becomes the request caller. Safe methods
// pass through unauthenticated. now may be nil.
func SignatureAuth(maxSkew time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			addrHex := r.Header.Get(crypto.HeaderAddress)
			tsRaw := r.Header.Get(crypto.HeaderTimestamp)
			sig := r.Header.Get(crypto.HeaderSignature)
			if addrHex == "" || tsRaw == "" || sig == "" {
				writeUnauthorized(w, "missing request signature")
				return
			}
			if !common.IsHexAddress(addrHex) {
				writeUnauthorized(w, "invalid signer address")
				return
			}

			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid timestamp")
				return
			}
			skew := now().Sub(time.Unix(ts, 0))
			if skew < -maxSkew || skew > maxSkew {
				writeUnauthorized(w, "timestamp outside allowed window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverRequestSigner(tsRaw, r.Method, r.URL.Path, string(body), sig)
			if err != nil || signer != common.HexToAddress(addrHex) {
				writeUnauthorized(w, "signature does not match signer")
				return
			}

			if rec, ok := w.(callerRecorder); ok {
				rec.recordCaller(signer)
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
		})
	}
}
