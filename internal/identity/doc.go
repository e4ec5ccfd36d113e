// Package identity defines the records exchanged between the directory
// sources, the reconciliation engine and the persisted store.
//
// DirectoryUser and DirectoryGroup are what a source returns for one pass.
// ResolvedIdentity is what the store keeps, keyed by kind and external id.
// Inactive identities are retained; only the reconciler flips Active.
package identity
