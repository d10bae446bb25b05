// Package cryptoutil holds the signature and digest helpers used to trust
// settings documents: KMS-backed signature verification (ECDSA P-256/P-384,
// RSA-PSS with optional PKCS#1 v1.5) and SHA-256 digests.
package cryptoutil
