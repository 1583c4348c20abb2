// Package core holds the token lifecycle engine: credential and state
// contracts, the state guard, refresh serialization and the Service that
// drives authorization, refresh and revocation. Vendor and storage adapters
// depend on this package; core never imports them.
package core
