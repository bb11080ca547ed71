package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimarket/internal/crypto"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the caller identity.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the caller identity attached by Principal, or "".
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// PrincipalConfig controls how the caller identity is established.
type PrincipalConfig struct {
	// RequireSignatures makes every request that names a principal prove it
	// with an EIP-191 signature over the request digest.
	RequireSignatures bool
	// MaxAge bounds how far X-Timestamp may lie from the server clock.
	MaxAge time.Duration
	// MaxBody bounds the body read for digesting.
	MaxBody int64
	Now     func() time.Time
	Logger  *slog.Logger
}

// Principal returns middleware that resolves X-Principal into the request
// context. Without RequireSignatures the header is trusted as given. With it,
// the signature must recover to the named address; the principal is then the
// checksummed address.
func Principal(cfg PrincipalConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := strings.TrimSpace(r.Header.Get(crypto.HeaderPrincipal))
			if claimed == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !cfg.RequireSignatures {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claimed)))
				return
			}

			principal, err := verify(r, claimed, cfg)
			if err != nil {
				cfg.Logger.WarnContext(r.Context(), "middleware: signature rejected",
					slog.String("principal", claimed),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, "BadSignature", "invalid request signature")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// verify checks the signature headers on r and returns the checksummed
// signer address. The body is restored so handlers can read it again.
func verify(r *http.Request, claimed string, cfg PrincipalConfig) (string, error) {
	if !common.IsHexAddress(claimed) {
		return "", errSignature("principal is not an address")
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(crypto.HeaderTimestamp)), 10, 64)
	if err != nil {
		return "", errSignature("missing or malformed timestamp")
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > cfg.MaxAge {
		return "", errSignature("timestamp outside allowed window")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, cfg.MaxBody+1))
		r.Body.Close()
		if err != nil {
			return "", err
		}
		if int64(len(body)) > cfg.MaxBody {
			return "", errSignature("body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	signer, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, ts, body, r.Header.Get(crypto.HeaderSignature))
	if err != nil {
		return "", err
	}
	if signer != common.HexToAddress(claimed) {
		return "", errSignature("signer " + signer.Hex() + " does not match principal")
	}
	return signer.Hex(), nil
}

type errSignature string

func (e errSignature) Error() string { return string(e) }
