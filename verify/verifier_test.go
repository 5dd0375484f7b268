package verify

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	"github.com/PaulFidika/appleauth/keyset"
	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	keyOnce  sync.Once
	rsaA     *rsa.PrivateKey
	rsaB     *rsa.PrivateKey
	hmacKey  = []byte("0123456789abcdef0123456789abcdef")
	allowAll = []string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512"}
)

func keys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if rsaA, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if rsaB, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return rsaA, rsaB
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) *jwtkit.Token {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = "abc"
	raw, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return parse(t, raw)
}

func parse(t *testing.T, raw string) *jwtkit.Token {
	t.Helper()
	tok, err := jwtkit.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tok
}

// handMade builds a token from an arbitrary header, signing with HS256 over hmacKey.
func handMade(t *testing.T, header map[string]any, claims map[string]any) *jwtkit.Token {
	t.Helper()
	hb, _ := json.Marshal(header)
	cb, _ := json.Marshal(claims)
	input := base64.RawURLEncoding.EncodeToString(hb) + "." + base64.RawURLEncoding.EncodeToString(cb)
	sig, err := jwt.SigningMethodHS256.Sign(input, hmacKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return parse(t, input+"."+base64.RawURLEncoding.EncodeToString(sig))
}

func rsaDescriptor(k *rsa.PrivateKey) keyset.KeyDescriptor {
	return keyset.KeyDescriptor{KeyID: "abc", Algorithm: "RS256", Material: &k.PublicKey}
}

func at(sec, leeway int64) Config {
	return Config{LeewaySeconds: leeway, Clock: UnixClock(sec)}
}

func TestVerify_AppleScenario(t *testing.T) {
	a, _ := keys(t)
	tok := sign(t, jwt.SigningMethodRS256, a, jwt.MapClaims{"iat": 1000, "exp": 2000})

	claims, err := Verify(tok, rsaDescriptor(a), []string{"RS256"}, at(1500, 0))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	b, _ := json.Marshal(claims)
	if string(b) != `{"exp":2000,"iat":1000}` {
		t.Fatalf("unexpected claims %s", b)
	}
}

func TestVerify_PreconditionsAndPolicy(t *testing.T) {
	a, _ := keys(t)
	rs := sign(t, jwt.SigningMethodRS256, a, jwt.MapClaims{"sub": "x"})

	cases := []struct {
		name    string
		tok     *jwtkit.Token
		key     keyset.KeyDescriptor
		allowed []string
		want    error
	}{
		{"nil material", rs, keyset.KeyDescriptor{Algorithm: "RS256"}, allowAll, ErrInvalidKey},
		{"empty hmac secret", rs, keyset.KeyDescriptor{Material: []byte{}}, allowAll, ErrInvalidKey},
		{"no alg header", handMade(t, map[string]any{"kid": "abc"}, map[string]any{}), keyset.KeyDescriptor{Material: hmacKey}, allowAll, ErrInvalidAlgorithm},
		{"alg not a string", handMade(t, map[string]any{"alg": 7}, map[string]any{}), keyset.KeyDescriptor{Material: hmacKey}, allowAll, ErrInvalidAlgorithm},
		{"alg outside policy", rs, rsaDescriptor(a), []string{"HS256"}, ErrAlgorithmNotAllowed},
		{"empty policy", rs, rsaDescriptor(a), nil, ErrAlgorithmNotAllowed},
		{"allowed but unimplemented", handMade(t, map[string]any{"alg": "ES256"}, map[string]any{}), keyset.KeyDescriptor{Material: hmacKey}, []string{"ES256"}, ErrAlgorithmNotSupported},
		{"none", handMade(t, map[string]any{"alg": "none"}, map[string]any{}), keyset.KeyDescriptor{Material: hmacKey}, []string{"none"}, ErrAlgorithmNotSupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := Verify(tc.tok, tc.key, tc.allowed, at(1500, 0))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if claims != nil {
				t.Fatalf("claims returned alongside error: %v", claims)
			}
		})
	}
}

func TestVerify_SignatureInvalid(t *testing.T) {
	a, b := keys(t)

	t.Run("other key", func(t *testing.T) {
		tok := sign(t, jwt.SigningMethodRS256, b, jwt.MapClaims{"exp": 2000})
		if _, err := Verify(tok, rsaDescriptor(a), allowAll, at(1500, 0)); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("expected signature invalid, got %v", err)
		}
	})

	t.Run("payload swapped", func(t *testing.T) {
		orig := sign(t, jwt.SigningMethodRS256, a, jwt.MapClaims{"sub": "alice"})
		forged, _ := json.Marshal(map[string]any{"sub": "mallory"})
		parts := strings.Split(orig.Raw, ".")
		raw := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forged) + "." + parts[2]
		if _, err := Verify(parse(t, raw), rsaDescriptor(a), allowAll, at(1500, 0)); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("expected signature invalid, got %v", err)
		}
	})

	t.Run("checked before expiry", func(t *testing.T) {
		tok := sign(t, jwt.SigningMethodRS256, b, jwt.MapClaims{"exp": 10})
		if _, err := Verify(tok, rsaDescriptor(a), allowAll, at(1500, 0)); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("expected signature invalid before temporal checks, got %v", err)
		}
	})

	t.Run("hmac keyed with rsa public key", func(t *testing.T) {
		// Classic substitution: attacker signs HS256 using the published RSA key bytes.
		der := x509.MarshalPKCS1PublicKey(&a.PublicKey)
		tok := sign(t, jwt.SigningMethodHS256, der, jwt.MapClaims{"sub": "mallory"})
		if _, err := Verify(tok, rsaDescriptor(a), []string{"HS256", "RS256"}, at(1500, 0)); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("expected signature invalid, got %v", err)
		}
	})
}

func TestVerify_HMAC(t *testing.T) {
	for _, m := range []jwt.SigningMethod{jwt.SigningMethodHS256, jwt.SigningMethodHS384, jwt.SigningMethodHS512} {
		t.Run(m.Alg(), func(t *testing.T) {
			tok := sign(t, m, hmacKey, jwt.MapClaims{"sub": "x"})
			key := keyset.KeyDescriptor{KeyID: "abc", Algorithm: m.Alg(), Material: hmacKey}
			if _, err := Verify(tok, key, []string{m.Alg()}, at(1500, 0)); err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}
}

func TestVerify_RSA(t *testing.T) {
	a, _ := keys(t)
	for _, m := range []jwt.SigningMethod{jwt.SigningMethodRS256, jwt.SigningMethodRS384, jwt.SigningMethodRS512} {
		t.Run(m.Alg(), func(t *testing.T) {
			tok := sign(t, m, a, jwt.MapClaims{"sub": "x"})
			if _, err := Verify(tok, rsaDescriptor(a), []string{m.Alg()}, at(1500, 0)); err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}
}

func TestVerify_Temporal(t *testing.T) {
	cases := []struct {
		name   string
		claims jwt.MapClaims
		now    int64
		leeway int64
		want   error
	}{
		{"no temporal claims", jwt.MapClaims{"sub": "x"}, 1500, 0, nil},
		{"all valid", jwt.MapClaims{"nbf": 1000, "iat": 1000, "exp": 2000}, 1500, 0, nil},
		{"nbf in future", jwt.MapClaims{"nbf": 1600}, 1500, 0, ErrTokenNotYetValid},
		{"nbf inside leeway", jwt.MapClaims{"nbf": 1600}, 1500, 100, nil},
		{"nbf equals now", jwt.MapClaims{"nbf": 1500}, 1500, 0, nil},
		{"iat in future without nbf", jwt.MapClaims{"iat": 1501}, 1500, 0, ErrTokenNotYetValid},
		{"iat inside leeway", jwt.MapClaims{"iat": 1501}, 1500, 1, nil},
		{"exp equals now", jwt.MapClaims{"exp": 1500}, 1500, 0, ErrTokenExpired},
		{"exp passed", jwt.MapClaims{"exp": 1000}, 1500, 0, ErrTokenExpired},
		{"exp boundary with leeway", jwt.MapClaims{"exp": 1000}, 1005, 5, ErrTokenExpired},
		{"exp rescued by leeway", jwt.MapClaims{"exp": 1000}, 1005, 6, nil},
		{"nbf reported before exp", jwt.MapClaims{"nbf": 3000, "exp": 1000}, 1500, 0, ErrTokenNotYetValid},
		{"fractional exp truncated", jwt.MapClaims{"exp": 1500.9}, 1500, 0, ErrTokenExpired},
		{"null nbf ignored", jwt.MapClaims{"nbf": nil}, 1500, 0, nil},
		{"string exp", jwt.MapClaims{"exp": "tomorrow"}, 1500, 0, ErrClaimInvalid},
		{"negative leeway ignored", jwt.MapClaims{"exp": 1500}, 1499, -10, nil},
		{"huge leeway clamped", jwt.MapClaims{"iat": 1000, "exp": 2000}, 1500, math.MaxInt64, nil},
		{"huge leeway still expires", jwt.MapClaims{"exp": 1000}, 1000 + MaxLeewaySeconds, math.MaxInt64, ErrTokenExpired},
		{"exp at int64 max", jwt.MapClaims{"exp": json.Number("9223372036854775807")}, 1500, 0, nil},
		{"exp beyond int64", jwt.MapClaims{"exp": json.Number("9223372036854775808")}, 1500, 0, ErrClaimInvalid},
		{"exp beyond int64 as float", jwt.MapClaims{"exp": json.Number("9.3e18")}, 1500, 0, ErrClaimInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := sign(t, jwt.SigningMethodHS256, hmacKey, tc.claims)
			key := keyset.KeyDescriptor{KeyID: "abc", Algorithm: "HS256", Material: hmacKey}
			_, err := Verify(tok, key, []string{"HS256"}, at(tc.now, tc.leeway))
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerify_ClaimsPassThrough(t *testing.T) {
	a, _ := keys(t)
	tok := sign(t, jwt.SigningMethodRS256, a, jwt.MapClaims{
		"sub":              "001234.abcd",
		"email":            "x@privaterelay.appleid.com",
		"is_private_email": "true",
		"nested":           map[string]any{"a": []any{1, "b"}},
		"big":              9007199254740993,
	})
	claims, err := Verify(tok, rsaDescriptor(a), []string{"RS256"}, at(1500, 0))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, _ := json.Marshal(claims)
	parts := strings.Split(tok.Raw, ".")
	payload, _ := base64.RawURLEncoding.DecodeString(parts[1])

	var want, have map[string]json.RawMessage
	_ = json.Unmarshal(payload, &want)
	_ = json.Unmarshal(got, &have)
	if len(want) != len(have) {
		t.Fatalf("claim count mismatch: %s vs %s", payload, got)
	}
	for k, v := range want {
		if string(have[k]) != string(v) {
			t.Errorf("claim %s changed: %s -> %s", k, v, have[k])
		}
	}

	// The caller owns the result; mutating it must not reach the token.
	claims["sub"] = "changed"
	if tok.Claims["sub"] != "001234.abcd" {
		t.Fatal("claim set shares storage with token")
	}
}

func TestVerifier_CustomRegistry(t *testing.T) {
	a, _ := keys(t)
	tok := sign(t, jwt.SigningMethodRS256, a, jwt.MapClaims{})
	v := NewVerifier(WithRegistry(Registry{"HS256": jwt.SigningMethodHS256}))
	if _, err := v.Verify(tok, rsaDescriptor(a), []string{"RS256"}, at(1500, 0)); !errors.Is(err, ErrAlgorithmNotSupported) {
		t.Fatalf("expected not supported, got %v", err)
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrTokenExpired, "token_expired"},
		{fmt.Errorf("wrapped: %w", ErrTokenNotYetValid), "token_not_yet_valid"},
		{keyset.ErrKeyNotFound, "key_not_found"},
		{jwtkit.ErrTokenMalformed, "token_malformed"},
		{errors.New("dial tcp: refused"), ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if !Retryable(keyset.ErrKeyNotFound) || !Retryable(fmt.Errorf("cached: %w", keyset.ErrKeySetMalformed)) {
		t.Error("key-not-found and malformed key sets should be retryable")
	}
	if Retryable(ErrSignatureInvalid) || Retryable(keyset.ErrKeyMaterialInvalid) {
		t.Error("token and key material failures are final")
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, leeway := range []int64{0, 30, MaxLeewaySeconds} {
		if err := (Config{LeewaySeconds: leeway}).Validate(); err != nil {
			t.Errorf("leeway %d rejected: %v", leeway, err)
		}
	}
	for _, leeway := range []int64{-1, MaxLeewaySeconds + 1, math.MaxInt64} {
		if err := (Config{LeewaySeconds: leeway}).Validate(); err == nil {
			t.Errorf("leeway %d accepted", leeway)
		}
	}
}

func TestAddSat(t *testing.T) {
	if got := addSat(math.MaxInt64-1, 10); got != math.MaxInt64 {
		t.Fatalf("overflow not saturated: %d", got)
	}
	if got := addSat(math.MinInt64+1, -10); got != math.MinInt64 {
		t.Fatalf("underflow not saturated: %d", got)
	}
	if got := addSat(1500, -100); got != 1400 {
		t.Fatalf("plain add: %d", got)
	}
}

func TestRegistry(t *testing.T) {
	got := DefaultRegistry().Algorithms()
	want := []string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("algorithms = %v", got)
	}
	r := DefaultRegistry()
	delete(r, "HS256")
	if !Supported("HS256") {
		t.Fatal("DefaultRegistry must return a copy")
	}
}
