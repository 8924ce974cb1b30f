// Package ledger archives successfully digitized bills in a relational
// store.
//
// This package contains:
//   - Ledger: a GORM-backed archive with query helpers
//   - Entry: the persisted row for one digitized bill
//
// Most users should import the root package github.com/zhufucdev/ledoxide
// instead of this package directly.
package ledger
