package crypto

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAddressCanonicalisesHexCase(t *testing.T) {
	lower := "0x5b6cf21bb0e8cb43d0bbadda249bcfe4c2703cef"
	mixed := "0x5B6Cf21bb0e8cB43d0bbadda249BcFe4C2703Cef"
	a, err := ParseAddress(lower)
	if err != nil {
		t.Fatalf("parse lower: %v", err)
	}
	b, err := ParseAddress(mixed)
	if err != nil {
		t.Fatalf("parse mixed: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical bytes for differently cased hex")
	}
	if got := FormatHex(a); got != mixed {
		t.Fatalf("unexpected checksum form %s", got)
	}
}

func TestParseAddressBech32RoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 20)
	addr := MustNewAddress(MarketPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "mkt1") {
		t.Fatalf("unexpected bech32 %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if !bytes.Equal(parsed[:], raw) {
		t.Fatalf("bech32 round trip mismatch")
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	foreign := MustNewAddress("other", bytes.Repeat([]byte{0x01}, 20)).String()
	for _, input := range []string{"", "0x1234", "hello", foreign} {
		if _, err := ParseAddress(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestPersonalSignatureRecoversSigner(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("market login 42")
	sig, err := key.SignPersonal(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("unexpected recovery byte %d", sig[64])
	}
	signer, err := RecoverPersonal(msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != key.PubKey().Address().Bytes() {
		t.Fatalf("recovered signer mismatch")
	}
	other, err := RecoverPersonal([]byte("tampered"), sig)
	if err == nil && other == signer {
		t.Fatalf("tampered message must not recover the same signer")
	}
	if _, err := RecoverPersonal(msg, sig[:10]); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "cli.json")
	if err := SaveToKeystore(path, key, "pass"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "pass")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	if _, err := LoadFromKeystore(filepath.Join(t.TempDir(), "nope.json"), "pass"); !errors.Is(err, ErrKeystoreMissing) {
		t.Fatalf("expected ErrKeystoreMissing, got %v", err)
	}
}
