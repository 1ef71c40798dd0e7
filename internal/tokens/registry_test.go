package tokens

import (
	"errors"
	"testing"

	"github.com/AccountantBot/coordinator/internal/models"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r, err := NewRegistry(ScrollChainID, DefaultTokens())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	for _, addr := range []string{
		"0x06efdbff2a14a7c8e15944d1f4a48f9f95f663a4",
		"0x06EFDBFF2A14A7C8E15944D1F4A48F9F95F663A4",
		"0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4",
	} {
		tok, err := r.Lookup(addr)
		if err != nil {
			t.Fatalf("Lookup(%s) failed: %v", addr, err)
		}
		if tok.Symbol != "USDC" || tok.Decimals != 6 {
			t.Errorf("Lookup(%s) = %+v, want USDC/6", addr, tok)
		}
	}

	if _, err := r.Lookup("0x0000000000000000000000000000000000000001"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Lookup(unknown) error = %v, want ErrUnknownToken", err)
	}
}

func TestRegistryListSortedBySymbol(t *testing.T) {
	r, err := NewRegistry(ScrollChainID, DefaultTokens())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	list := r.List()
	if len(list) != 2 || list[0].Symbol != "USDC" || list[1].Symbol != "USDT" {
		t.Errorf("List() = %+v, want [USDC USDT]", list)
	}
}

func TestNewRegistryRejectsBadTokens(t *testing.T) {
	tests := []struct {
		name   string
		tokens []models.Token
	}{
		{
			name:   "bad address",
			tokens: []models.Token{{Address: "0x123", Symbol: "BAD", Decimals: 6, ChainID: ScrollChainID}},
		},
		{
			name:   "wrong chain",
			tokens: []models.Token{{Address: "0x06efdbff2a14a7c8e15944d1f4a48f9f95f663a4", Symbol: "USDC", Decimals: 6, ChainID: 1}},
		},
		{
			name: "duplicate address",
			tokens: []models.Token{
				{Address: "0x06efdbff2a14a7c8e15944d1f4a48f9f95f663a4", Symbol: "USDC", Decimals: 6, ChainID: ScrollChainID},
				{Address: "0x06EFDBFF2A14A7C8E15944D1F4A48F9F95F663A4", Symbol: "USDC2", Decimals: 6, ChainID: ScrollChainID},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(ScrollChainID, tt.tokens); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
