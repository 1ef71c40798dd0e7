package models

// User represents a wallet that has signed in with Ethereum.
// Users are identified by address only; there is no password or email.
type User struct {
	// Address is the wallet address, stored in its lower-case key form.
	Address string

	// CreatedAt is the Unix timestamp of the first successful sign-in.
	CreatedAt int64

	// LastLoginAt is the Unix timestamp of the most recent sign-in.
	LastLoginAt int64
}
