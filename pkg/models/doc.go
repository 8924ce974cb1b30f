// Package models provides the model cache for the ledoxide package.
//
// This package contains:
//   - Model: the interface a loaded inference backend satisfies
//   - Manager: name-keyed cache with single-flight builds and idle eviction
//   - Builder: the factory registered for each model name
//   - Request, Message, Sampling: the completion call shape
//
// Most users should import the root package github.com/zhufucdev/ledoxide
// instead of this package directly.
package models
