// Package solidity extracts the declarations the pipeline needs from Solidity
// sources and ABI documents: functions, modifiers, events, state variables,
// storage layout, compiler pragma and 4-byte selectors.
//
// It is not a compiler front end. Statements are found by brace matching on
// comment-stripped source, which is enough for declaration-level analysis.
package solidity
