package gateway_test

import (
	"context"
	"testing"
	"time"

	"codeduel/internal/duel/gateway"
	appErr "codeduel/pkg/errors"
)

func TestJWTVerifier(t *testing.T) {
	t.Parallel()
	v := gateway.NewJWTVerifier("secret", "codeduel")
	ctx := context.Background()

	good, err := v.Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, err := v.Issue("alice", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	foreign, err := gateway.NewJWTVerifier("other", "codeduel").Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	wrongIssuer, err := gateway.NewJWTVerifier("secret", "someone-else").Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ident, err := v.Verify(ctx, good)
	if err != nil || ident.UserID != "alice" {
		t.Fatalf("expected alice, got %+v, %v", ident, err)
	}

	cases := []struct {
		name  string
		token string
		want  appErr.ErrorCode
	}{
		{name: "empty", token: "", want: appErr.TokenInvalid},
		{name: "garbage", token: "not.a.jwt", want: appErr.TokenInvalid},
		{name: "expired", token: expired, want: appErr.TokenExpired},
		{name: "wrong secret", token: foreign, want: appErr.TokenInvalid},
		{name: "wrong issuer", token: wrongIssuer, want: appErr.TokenInvalid},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := v.Verify(ctx, tc.token); !appErr.Is(err, tc.want) {
				t.Fatalf("expected code %d, got %v", tc.want, err)
			}
		})
	}
}
