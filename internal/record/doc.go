// Package record defines the identity and value types shared by every
// component of coldline: records, their keys, archival candidates and scan
// cursors.
//
// A record is an opaque payload addressed by (partition key, id) and carrying
// the write timestamp used for age comparison. Nothing in this package
// interprets the payload.
//
// The package also owns the cold-tier object format:
//   - ColdName derives the object name deterministically from the key, so a
//     retried archival always rewrites the same object.
//   - EncodeCold/DecodeCold wrap the payload in a zstd-compressed JSON
//     envelope carrying the identity and a SHA-256 digest of the payload.
//
// Keys are normalized to Unicode NFC before they are used for naming or
// comparison, so visually identical identifiers produced by different
// writers map to the same object.
package record
