// Package models defines the core domain models for the split coordinator.
//
// # Models
//
//   - Token: ERC-20 reference data (address, symbol, decimals, chain id)
//   - Split: a group expense advanced by one payer and owed by participants
//   - SplitItem: one participant's share, in the token's smallest unit
//   - Approval: a participant's accepted off-chain signature
//   - SettlementAttempt: audit record of one on-chain settlement submission
//   - User: a wallet that has signed in
//
// # Design Principles
//
// 1. **Exact amounts**: every amount is a *big.Int in base units, never a float
// 2. **Closed status**: Status only admits pending, approved and settled
// 3. **Addresses as keys**: participant lookups are case-insensitive (see AddressKey)
// 4. **Append/update only**: splits are never deleted, they remain as audit records
package models
