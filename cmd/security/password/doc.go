// Package password hashes and verifies account passwords with Argon2id.
//
// Encoded hashes use the PHC string format. They are treated as untrusted
// input on Verify: parameters far above the configured cost are refused.
package password
