// Package providers holds the shared OAuth2 base and the authenticated API
// client used by the cloud-storage vendors in its subpackages.
//
// Token endpoint calls and file API calls of one vendor pass through the
// same rate-limit policy, keyed by provider id and bucket ("token" or
// "api"), so a 429 on one side is honoured by the other.
package providers
