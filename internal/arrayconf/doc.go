// Package arrayconf parses the parity engine's array definition file:
// which drives belong to the array, where parity and content metadata
// live, and which patterns are excluded. The parser is deliberately
// forgiving so a configuration written for a newer engine still loads.
package arrayconf
