package crypto

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

func TestAddressRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	encoded := EncodeAddress(addr)
	if !strings.HasPrefix(encoded, AddressPrefix+"1") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	decoded, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if decoded != addr {
		t.Fatalf("expected %s, got %s", addr.Hex(), decoded.Hex())
	}
	fromHex, err := ParseAddress(addr.Hex())
	if err != nil || fromHex != addr {
		t.Fatalf("parse hex: %v %s", err, fromHex.Hex())
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "0x1234", "nhb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq", "not-an-address"} {
		if _, err := ParseAddress(raw); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("ParseAddress(%q) = %v, want ErrInvalidAddress", raw, err)
		}
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	if err := SaveKey(path, key, "pass"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadKey(path, "pass")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("address mismatch: %s vs %s", loaded.Address().Hex(), key.Address().Hex())
	}
	if _, err := LoadKey(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
