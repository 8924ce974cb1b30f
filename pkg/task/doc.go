// Package task defines task descriptors, records, and the lifecycle state
// machine.
//
// This package contains:
//   - Descriptor: the immutable input submitted for one task
//   - Record: identity plus monotonic pending/running/finished state
//   - The JSON record shape shared by the HTTP layer and the swap log
//
// Most users should import the root package github.com/zhufucdev/ledoxide
// instead of this package directly.
package task
