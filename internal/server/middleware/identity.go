package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

// maxSignedBody bounds the request body read for signature checks.
const maxSignedBody = 1 << 20

type accountKey struct{}

// Account returns the caller authenticated by Identity.
func Account(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(accountKey{}).(common.Address)
	return a, ok
}

// WithAccount attaches an authenticated caller to ctx.
func WithAccount(ctx context.Context, a common.Address) context.Context {
	return context.WithValue(ctx, accountKey{}, a)
}

// Identity returns middleware that authenticates state-changing requests by
// their X-Account, X-Timestamp and X-Signature headers. The signature covers
// method, path, timestamp and body; see crypto.RequestMessage.
func Identity(now func() time.Time, maxSkew time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if maxSkew <= 0 {
		maxSkew = crypto.DefaultMaxSkew
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isRead(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			account, err := crypto.VerifyRequest(r.Method, r.URL.Path, body,
				r.Header.Get(crypto.HeaderAccount),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				now(), maxSkew)
			if err != nil {
				logger.WarnContext(r.Context(), "request signature rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}
