// Package api provides the HTTP surface for submitting and polling
// digitization tasks.
//
// This package contains:
//   - Server: chi-routed handlers over a scheduler
//   - Bearer-token auth middleware with constant-time comparison
//   - GenerateKey: random bearer token generation
//
// Most users should import the root package github.com/zhufucdev/ledoxide
// instead of this package directly.
package api
