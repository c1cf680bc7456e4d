// Package jwks validates session tokens issued by a hosted identity
// service. Keys come from the service's JSON Web Key Set, from keys given
// up front, or both. A fallback validator, usually the local provider,
// can be chained for tokens the key set does not know.
package jwks
