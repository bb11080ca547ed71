// Package escrow derives market custody identities and provides an
// in-process implementation of domain.Escrow.
package escrow

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// custodySeed domain-separates custody derivation from any other keccak use.
var custodySeed = []byte("parimarket/custody")

// CustodyAddress derives the custody account for marketName under program.
// The address has no private key; only the engine acting for the market can
// move funds out of it.
//
//	address = keccak256(seed || program || name)[12:]
func CustodyAddress(program common.Address, marketName string) common.Address {
	digest := ethcrypto.Keccak256(custodySeed, program.Bytes(), []byte(marketName))
	return common.BytesToAddress(digest[12:])
}

// Deriver binds CustodyAddress to one program address.
type Deriver struct {
	program common.Address
}

// NewDeriver parses a hex program address. An empty string selects the zero
// address, which is fine for single-deployment setups.
func NewDeriver(programHex string) (Deriver, error) {
	programHex = strings.TrimSpace(programHex)
	if programHex == "" {
		return Deriver{}, nil
	}
	if !common.IsHexAddress(programHex) {
		return Deriver{}, fmt.Errorf("escrow: invalid program address %q", programHex)
	}
	return Deriver{program: common.HexToAddress(programHex)}, nil
}

// Custody returns the checksummed hex custody address for marketName.
func (d Deriver) Custody(marketName string) string {
	return CustodyAddress(d.program, marketName).Hex()
}

// Program returns the program address custody is derived under.
func (d Deriver) Program() common.Address {
	return d.program
}
