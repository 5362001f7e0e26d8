// Package httpserver exposes the auction service over HTTP.
//
// BaseServer carries the common server lifecycle: liveness and readiness probes, drain control
// for load balancers, structured request logging and graceful shutdown. AuctionHandler
// registers the auction routes on top of it.
//
// # Authentication
//
// Mutating auction routes are signed by the caller. The request carries the caller's hex
// ed25519 public key in X-Signer and a hex signature in X-Signature over
//
//	METHOD + "\n" + PATH + "\n" + BODY
//
// The verified key is the caller identity passed to the auction operations. Funding accounts
// is an operator action under /admin, protected by HTTP basic auth.
//
// # Errors
//
// Failures are returned as {"error": code, "message": text, "retryable": bool} where code is
// the stable auction error kind.
package httpserver
