package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	testKeyID  = "0123456789abcdef0123456789abcdef"
	testMethod = "/cepwarden.ingest.v1.EventIngest/ReportEvents"
)

var (
	testSecret = []byte("testsecret1234567890abcdefghijklmnop")
	testNow    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newTestAuthenticator() *Authenticator {
	a := NewAuthenticator(map[string][]byte{testKeyID: testSecret})
	a.now = func() time.Time { return testNow }
	return a
}

func sign(keyID string, secret []byte, method string, ts time.Time) (string, string) {
	return ts.Format(time.RFC3339), ComputeHMAC(secret, StringToSign(keyID, method, ts))
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuthenticator()
	ts, sig := sign(testKeyID, testSecret, testMethod, testNow.Add(-time.Minute))
	_, wrongSig := sign(testKeyID, []byte("another-secret-of-sufficient-length!"), testMethod, testNow)
	staleTS, staleSig := sign(testKeyID, testSecret, testMethod, testNow.Add(-time.Hour))

	tests := []struct {
		name    string
		method  string
		keyID   string
		ts      string
		sig     string
		wantErr error
	}{
		{"valid", testMethod, testKeyID, ts, sig, nil},
		{"missing signature", testMethod, testKeyID, ts, "", ErrMissingCredentials},
		{"malformed timestamp", testMethod, testKeyID, "yesterday", sig, ErrInvalidTimestamp},
		{"stale timestamp", testMethod, testKeyID, staleTS, staleSig, ErrStaleTimestamp},
		{"unknown key", testMethod, "fedcba9876543210fedcba9876543210", ts, sig, ErrUnknownKey},
		{"wrong secret", testMethod, testKeyID, testNow.Format(time.RFC3339), wrongSig, ErrInvalidSignature},
		{"signed for another method", "/other/Method", testKeyID, ts, sig, ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := a.Authenticate(tt.method, tt.keyID, tt.ts, tt.sig)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && id != testKeyID {
				t.Errorf("Authenticate() = %q, want %q", id, testKeyID)
			}
		})
	}
}

func TestUnaryInterceptor(t *testing.T) {
	a := newTestAuthenticator()
	interceptor := a.UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: testMethod}

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = KeyIDFromContext(ctx)
		return "ok", nil
	}

	t.Run("authenticated", func(t *testing.T) {
		ts, sig := sign(testKeyID, testSecret, testMethod, testNow)
		md := metadata.Pairs(headerKeyID, testKeyID, headerTimestamp, ts, headerSignature, sig)
		resp, err := interceptor(metadata.NewIncomingContext(context.Background(), md), nil, info, handler)
		if err != nil {
			t.Fatalf("interceptor error = %v, want nil", err)
		}
		if resp != "ok" || seen != testKeyID {
			t.Errorf("handler saw key %q, response %v", seen, resp)
		}
	})

	t.Run("no metadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, info, handler)
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("code = %v, want Unauthenticated", status.Code(err))
		}
	})

	t.Run("unknown key hidden", func(t *testing.T) {
		other := "fedcba9876543210fedcba9876543210"
		ts, sig := sign(other, testSecret, testMethod, testNow)
		md := metadata.Pairs(headerKeyID, other, headerTimestamp, ts, headerSignature, sig)
		_, err := interceptor(metadata.NewIncomingContext(context.Background(), md), nil, info, handler)
		if status.Code(err) != codes.Unauthenticated || status.Convert(err).Message() != ErrInvalidSignature.Error() {
			t.Errorf("error = %v, want Unauthenticated invalid signature", err)
		}
	})
}

func TestKeyIDFromContext(t *testing.T) {
	if got := KeyIDFromContext(context.Background()); got != "" {
		t.Errorf("KeyIDFromContext() = %q, want empty", got)
	}
}
