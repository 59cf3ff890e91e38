// Package domain defines the core data models and contracts shared across
// tectonopedia: the signing keypair, document identifiers, handle readiness,
// the execution-context capability and the error taxonomy.
// It contains plain types and interfaces only.
package domain
