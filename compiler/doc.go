// Package compiler turns parsed Merlin modules into executable bytecode.
//
// This package contains:
//   - The syntax tree contract consumed from external front ends
//   - The semantic analyser: namespaces, overloads, return coverage,
//     constant folding
//   - The bytecode generator with forward-patched jumps and per-PC debug
//     metadata
package compiler
