// Package ir provides the intermediate representation of a DIEL program.
//
// This package contains type definitions and pure transformations only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Sealed interfaces (Expr, Command) closed to this package, so every
//     backend switch over them is exhaustive
//   - IR values are treated as immutable once built; rewrites return new
//     trees and share untouched subtrees
//   - Relations keep declaration order; maps are lookup indexes only
package ir
