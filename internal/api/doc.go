// ABOUTME: Package documentation for the api package
// ABOUTME: Lists the route groups and the response envelope

// Package api exposes the gateway's JSON HTTP interface.
//
// Every response carries a boolean "success" field. Failures use
// {"success":false,"error":"<message>"} where the message is fixed per error
// kind, so token and credential failures never reveal their cause.
//
// Registration, login, health and metrics are public. Every other route sits
// behind the auth gate and reaches storage only through the tenant guard.
package api
