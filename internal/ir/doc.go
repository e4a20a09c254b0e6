// Package ir provides the typed records shared by every famlink package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. Rows read from
// the store are decoded into these records once, at the store boundary.
//
// Key design constraints:
//   - Every enum is a named string type with an explicit Valid method
//   - Timestamps are UTC time.Time values; the store owns their text layout
//   - Content-addressed digests are computed only through hash.go
//   - All JSON tags use snake_case
package ir
