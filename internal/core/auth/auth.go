// Package auth authenticates ingest clients with pre-shared HMAC secrets.
//
// A client signs StringToSign(keyID, method, now) with the secret
// registered under keyID and sends x-key-id, x-timestamp and x-signature
// metadata on every call. Several secrets may be active at once so keys
// can be rotated without downtime.
package auth

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultMaxSkew bounds the distance between a request timestamp and the
// server clock.
const DefaultMaxSkew = 5 * time.Minute

const (
	headerKeyID     = "x-key-id"
	headerTimestamp = "x-timestamp"
	headerSignature = "x-signature"
)

type contextKey string

const keyIDKey = contextKey("key_id")

// Authenticator validates request signatures against in-memory secrets.
type Authenticator struct {
	secrets map[string][]byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewAuthenticator creates an authenticator over secret_id -> secret.
func NewAuthenticator(secrets map[string][]byte) *Authenticator {
	return &Authenticator{secrets: secrets, maxSkew: DefaultMaxSkew, now: time.Now}
}

// Authenticate verifies one signed request and returns the key ID.
func (a *Authenticator) Authenticate(method, keyID, timestamp, signature string) (string, error) {
	if keyID == "" || timestamp == "" || signature == "" {
		return "", ErrMissingCredentials
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return "", ErrInvalidTimestamp
	}
	if skew := a.now().Sub(ts); skew > a.maxSkew || skew < -a.maxSkew {
		return "", ErrStaleTimestamp
	}
	secret, ok := a.secrets[keyID]
	if !ok {
		return "", ErrUnknownKey
	}
	if !VerifyHMAC(ComputeHMAC(secret, StringToSign(keyID, method, ts)), signature) {
		return "", ErrInvalidSignature
	}
	return keyID, nil
}

// UnaryInterceptor returns a gRPC interceptor that authenticates requests.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		keyID, err := a.Authenticate(info.FullMethod, first(md, headerKeyID), first(md, headerTimestamp), first(md, headerSignature))
		if errors.Is(err, ErrUnknownKey) {
			// unknown key and bad signature are indistinguishable to the client
			err = ErrInvalidSignature
		}
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(context.WithValue(ctx, keyIDKey, keyID), req)
	}
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// KeyIDFromContext extracts the authenticated key ID.
// Returns empty string if not found.
func KeyIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(keyIDKey).(string); ok {
		return id
	}
	return ""
}

var _ credentials.PerRPCCredentials = Credentials{}

// Credentials signs outgoing calls; use with grpc.WithPerRPCCredentials.
type Credentials struct {
	KeyID  string
	Secret []byte
	Secure bool // require transport security
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (c Credentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	var method string
	if ri, ok := credentials.RequestInfoFromContext(ctx); ok {
		method = ri.Method
	}
	now := time.Now().UTC()
	return map[string]string{
		headerKeyID:     c.KeyID,
		headerTimestamp: now.Format(time.RFC3339),
		headerSignature: ComputeHMAC(c.Secret, StringToSign(c.KeyID, method, now)),
	}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (c Credentials) RequireTransportSecurity() bool { return c.Secure }
