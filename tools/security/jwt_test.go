package security

import (
	"errors"
	"testing"
	"time"

	"PPRelay/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	tok, exp, err := Generate(opts, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) <= time.Hour {
		t.Fatalf("exp = %v", exp)
	}
	sub, err := Verify(opts, tok)
	if err != nil || sub != "alice" {
		t.Fatalf("verify = %q %v", sub, err)
	}

	if _, err := Verify(DefaultOptions([]byte("other")), tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("wrong secret err = %v", err)
	}
	if _, err := Verify(opts, "not.a.token"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("garbage err = %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("s3cret")
	claims := jwtlib.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Minute).Unix()}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(DefaultOptions(secret), tok); !errors.Is(err, errs.ErrTokenExpired) {
		t.Fatalf("expired err = %v", err)
	}
}

func TestVerifyRejectsOtherAlg(t *testing.T) {
	secret := []byte("s3cret")
	tok, _, err := Generate(Options{Secret: secret, Alg: "HS512"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(DefaultOptions(secret), tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("alg mismatch err = %v", err)
	}
}

func TestIssueCallToken(t *testing.T) {
	secret := []byte("provider-secret")
	tok, exp, err := IssueCallToken(secret, "bob", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := jwtlib.Parse(tok, func(*jwtlib.Token) (any, error) { return secret, nil })
	if err != nil {
		t.Fatal(err)
	}
	claims := parsed.Claims.(jwtlib.MapClaims)
	if claims["user_id"] != "bob" {
		t.Fatalf("claims = %v", claims)
	}
	if got, _ := claims.GetExpirationTime(); got == nil || got.Unix() != exp.Unix() {
		t.Fatalf("exp claim = %v, want %v", got, exp)
	}
	if _, _, err := IssueCallToken(nil, "bob", time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
}

func TestEmptySecretRefused(t *testing.T) {
	if _, _, err := Generate(DefaultOptions(nil), "mallory"); err == nil {
		t.Fatal("signed with empty secret")
	}
	tok, _, err := Generate(DefaultOptions([]byte("k")), "mallory")
	if err != nil {
		t.Fatal(err)
	}
	if sub, err := Verify(DefaultOptions(nil), tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("verify = %q %v", sub, err)
	}
}
