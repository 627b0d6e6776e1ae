package state

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	stateVersionKey   = []byte("meta/version")
	poolKeyBytes      = []byte("pool")
	vaultKeyBytes     = []byte("vault")
	positionPrefix    = []byte("pos/")
	lpSharePrefix     = []byte("lp/")
	vaultSharePrefix  = []byte("vs/")
	balancePrefix     = []byte("bal/")
	tokenSupplyPrefix = []byte("sup/")
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func addressKey(prefix []byte, addr common.Address) []byte {
	key := make([]byte, len(prefix)+common.AddressLength)
	copy(key, prefix)
	copy(key[len(prefix):], addr.Bytes())
	return key
}

func positionKey(addr common.Address) []byte   { return addressKey(positionPrefix, addr) }
func lpShareKey(addr common.Address) []byte    { return addressKey(lpSharePrefix, addr) }
func vaultShareKey(addr common.Address) []byte { return addressKey(vaultSharePrefix, addr) }

func balanceSymbolPrefix(symbol string) []byte {
	normalized := normalizeSymbol(symbol)
	key := make([]byte, 0, len(balancePrefix)+len(normalized)+1)
	key = append(key, balancePrefix...)
	key = append(key, normalized...)
	return append(key, '/')
}

func balanceKey(symbol string, addr common.Address) []byte {
	return addressKey(balanceSymbolPrefix(symbol), addr)
}

func tokenSupplyKey(symbol string) []byte {
	normalized := normalizeSymbol(symbol)
	key := make([]byte, len(tokenSupplyPrefix)+len(normalized))
	copy(key, tokenSupplyPrefix)
	copy(key[len(tokenSupplyPrefix):], normalized)
	return key
}

// splitBalanceKey extracts the symbol and holder from a bal/<SYM>/<addr> key.
func splitBalanceKey(key []byte) (string, common.Address, bool) {
	rest := key[len(balancePrefix):]
	if len(rest) < common.AddressLength+2 {
		return "", common.Address{}, false
	}
	sep := len(rest) - common.AddressLength - 1
	if rest[sep] != '/' {
		return "", common.Address{}, false
	}
	return string(rest[:sep]), common.BytesToAddress(rest[sep+1:]), true
}
