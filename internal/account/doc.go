// ABOUTME: Package documentation for the account package
// ABOUTME: Summarises the registration and login contract

// Package account registers users, verifies their credentials and issues
// bearer tokens.
//
// Login never tells an unknown email apart from a wrong password: both cost
// one bcrypt verification and both return InvalidCredentials. Only after the
// password has been verified does a deactivated account surface as
// AccountDisabled.
package account
