// Package accounts holds the account registry sessiond authenticates logins
// against.
//
// Accounts are seeded from ARBITER_DEV_ACCOUNTS ("name:password,...") and kept
// in memory with Argon2id password hashes.
package accounts
