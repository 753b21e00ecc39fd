// Package vm implements the Merlin virtual machine.
//
// This package contains:
//   - The tagged value universe and type-definition matching
//   - Scopes and the namespace/module scope manager
//   - A rooted mark/sweep garbage collector
//   - The opcode set, typed instruction operands and debug table
//   - The dispatch loop with call, exception and iterator protocols
//   - The built-in module registry and core built-ins
package vm
