// Package confidentialvoting wires the confidential weighted voting context:
// a member registry, resolutions whose yes/no tallies stay encrypted while
// voting is open, and a two-phase reveal answered asynchronously by a
// decryption oracle, with a timeout fallback when the oracle stays silent.
package confidentialvoting
