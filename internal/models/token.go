package models

// Token is immutable ERC-20 reference data for one chain.
type Token struct {
	// Address is the token contract address (0x-prefixed hex).
	Address string `yaml:"address"`

	// Symbol is the ticker shown to users (e.g., "USDC").
	Symbol string `yaml:"symbol"`

	// Decimals is the number of fractional digits of one whole token.
	// Amounts are never displayed without pairing them with Decimals.
	Decimals uint8 `yaml:"decimals"`

	// ChainID is the EVM chain the token lives on (e.g., 534352 for Scroll).
	ChainID uint64 `yaml:"chain_id"`
}
