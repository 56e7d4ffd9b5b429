// Package engine drives the external parity engine binary. It owns the
// verb command lines, the diff exit-code contract, and the decision of
// whether the array changed since the last sync. Parity math itself
// stays behind the engine CLI boundary.
package engine
