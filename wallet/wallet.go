// Package wallet derives receiving addresses from BIP-39 seed phrases, so
// merchants can configure payment recipients from a mnemonic instead of
// pasting raw hex addresses.
//
// Derivation follows the standard Ethereum path m/44'/60'/0'/0/{index}.
// The resulting EIP-55 checksummed address is valid as the PayTo recipient
// on every supported EVM network. Only the address leaves this package;
// the resource server receives funds, it never signs.
package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/payguard/x402-go"
)

// NewMnemonic generates a fresh BIP-39 mnemonic. bits selects the entropy
// size: 128 yields 12 words, 256 yields 24. Intermediate multiples of 32
// are accepted.
func NewMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic reports whether the phrase is a well-formed BIP-39
// mnemonic with a valid checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// DeriveAddress returns the EIP-55 checksummed address at
// m/44'/60'/0'/0/{index} for the given mnemonic. Successive indexes give
// merchants distinct receiving addresses from one seed phrase.
func DeriveAddress(mnemonic string, index uint32) (string, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", x402.ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
	}

	// m/44'/60'/0'/0/{index}: purpose, coin type (ether), account 0,
	// external chain, address index.
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild + 0,
		0,
		index,
	}
	for _, step := range path {
		key, err = key.NewChildKey(step)
		if err != nil {
			return "", fmt.Errorf("derive m/44'/60'/0'/0/%d: %w", index, err)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return "", fmt.Errorf("derive m/44'/60'/0'/0/%d: %w", index, err)
	}
	return crypto.PubkeyToAddress(privateKey.PublicKey).Hex(), nil
}
