package crypto

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// Well-known test key; never funded.
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var contract = common.HexToAddress("0x0000000000000000000000000000000000000abc")

func testOrder() domain.Order {
	return domain.Order{
		Sender:         common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"),
		Src:            domain.Token{Address: common.HexToAddress("0x01"), Symbol: "KNC", Decimals: 18},
		Dest:           domain.Token{Address: common.HexToAddress("0x02"), Symbol: "WETH", Decimals: 18, WrappedNative: true},
		SourceAmount:   big.NewInt(1_000_000),
		TargetRate:     big.NewInt(500),
		FeePPM:         2000,
		TransferFeePPM: 100,
		Nonce:          "nonce-1",
		Side:           domain.OrderSideSell,
	}
}

func TestSignOrderRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKey, 1, contract)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Address().Hex(); got != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Fatalf("Address() = %s", got)
	}

	o := testOrder()
	sig, err := s.SignOrder(o)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if len(sig) != 2+130 {
		t.Fatalf("signature length = %d, want 132", len(sig))
	}

	addr, err := Recover(s.Digest(s.Payload(o)), sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if addr != s.Address() {
		t.Errorf("recovered %s, want %s", addr, s.Address())
	}
}

func TestSignOrderIsDomainBound(t *testing.T) {
	a, _ := NewSigner(testKey, 1, contract)
	b, _ := NewSigner(testKey, 5, contract)
	p := a.Payload(testOrder())
	if string(a.Digest(p)) == string(b.Digest(p)) {
		t.Errorf("digest did not change with chain id")
	}
}

func TestSignOrderRequiresNonce(t *testing.T) {
	s, _ := NewSigner(testKey, 1, contract)
	o := testOrder()
	o.Nonce = ""
	if _, err := s.SignOrder(o); err == nil {
		t.Errorf("SignOrder without nonce succeeded")
	}
}

func TestPayloadEqual(t *testing.T) {
	account := common.HexToAddress("0x01")
	base := PayloadFor(account, testOrder())
	if !base.Equal(PayloadFor(account, testOrder())) {
		t.Fatalf("identical orders produced different payloads")
	}

	mutations := map[string]func(*domain.Order){
		"nonce":  func(o *domain.Order) { o.Nonce = "nonce-2" },
		"fee":    func(o *domain.Order) { o.FeePPM++ },
		"amount": func(o *domain.Order) { o.SourceAmount = big.NewInt(1_000_001) },
		"rate":   func(o *domain.Order) { o.TargetRate = big.NewInt(501) },
		"sender": func(o *domain.Order) { o.Sender = common.HexToAddress("0x03") },
		"side":   func(o *domain.Order) { o.Side = domain.OrderSideBuy },
		"token":  func(o *domain.Order) { o.Dest.Address = common.HexToAddress("0x04") },
	}
	for name, mutate := range mutations {
		o := testOrder()
		mutate(&o)
		if base.Equal(PayloadFor(account, o)) {
			t.Errorf("changing %s left the payload equal", name)
		}
	}
	if base.Equal(PayloadFor(common.HexToAddress("0x09"), testOrder())) {
		t.Errorf("changing account left the payload equal")
	}
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Errorf("DecryptKey = %s, want %s", got, testKey)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Errorf("DecryptKey with wrong password succeeded")
	}

	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil || loaded != testKey {
		t.Errorf("LoadKey(file) = %q, %v", loaded, err)
	}
}

func TestLoadKey(t *testing.T) {
	if k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey}); err != nil || k != testKey {
		t.Errorf("LoadKey(raw) = %q, %v", k, err)
	}
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "zz"}); err == nil {
		t.Errorf("LoadKey(bad hex) succeeded")
	}
	if _, err := LoadKey(KeyConfig{}); !errors.Is(err, ErrNoKeySource) {
		t.Errorf("LoadKey(empty) err = %v, want ErrNoKeySource", err)
	}
	if _, err := EncryptKey(testKey, ""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("EncryptKey(no password) err = %v, want ErrEmptyPassword", err)
	}
}

func TestHMACHeadersAt(t *testing.T) {
	h := &HMACAuth{Key: "key", Secret: "c2VjcmV0", Passphrase: "pass"}
	a := h.HeadersAt("0xabc", "POST", "/orders", `{"a":1}`, 1700000000)
	b := h.HeadersAt("0xabc", "POST", "/orders", `{"a":1}`, 1700000000)
	if a[HeaderSignature] != b[HeaderSignature] || a[HeaderSignature] == "" {
		t.Fatalf("signature not deterministic: %q vs %q", a[HeaderSignature], b[HeaderSignature])
	}
	if a[HeaderTimestamp] != "1700000000" || a[HeaderAPIKey] != "key" || a[HeaderAddress] != "0xabc" {
		t.Errorf("headers = %v", a)
	}
	c := h.HeadersAt("0xabc", "POST", "/orders", `{"a":2}`, 1700000000)
	if c[HeaderSignature] == a[HeaderSignature] {
		t.Errorf("signature ignores body")
	}
	if got := h.String(); got != "HMACAuth{key=****, secret=c2Vj****}" {
		t.Errorf("String() = %q", got)
	}
}
