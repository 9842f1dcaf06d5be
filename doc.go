// Package transcodine implements the encrypted streaming storage core of
// the transcodine secret-storage agent: a symmetric crypto toolkit, a
// random-access cipher stream over files, and two on-disk container
// formats built on it.
//
// # Overview
//
// An agent holds a single encrypted key-value database (the state
// database) and any number of encrypted bins, which are flat archives of
// named byte blobs. The authentication collaborator hands the core a
// 32-byte master key (KEK); the core derives the database key from it,
// resolves per-bin keys through the database, and streams all container
// bodies through AES-CTR without ever holding a whole container in memory.
//
// All file access goes through the absfs.FileSystem abstraction, so the
// core runs unchanged over the host filesystem, an in-memory filesystem,
// or any other absfs implementation.
//
// # Database format (EDB64)
//
//	[8]  magic "EDBASE64"
//	[16] AES-IV (rotated on every mutation)
//	-- AES-CTR encrypted from here, counter seeded from the IV --
//	[8]  magic "UNLOCKED"
//	repeated entries:
//	  [8]  magic "DBASEFLE"
//	  [8]  key length   (little-endian)
//	  [8]  value length (little-endian)
//	  [..] key bytes
//	  [..] value bytes
//	[8]  magic "DBASEEND"
//
// # Bin format (ARC64)
//
//	[8]  magic "ARCHV-64"
//	[16] bin id (base62 ASCII)
//	[16] AES-IV
//	-- AES-CTR encrypted from here --
//	[8]  magic "UNLOCKED"
//	repeated entries:
//	  [8]  magic "ARCHVFLE"
//	  [8]  path length (little-endian, includes the NUL terminator)
//	  [8]  data length (little-endian)
//	  [..] path bytes, NUL-terminated
//	  [..] file data
//	[8]  magic "ARCHVEND"
//
// The unlock sentinel doubles as the key check: a decrypt that does not
// produce "UNLOCKED" immediately after the global header means the key is
// wrong, and the open fails without touching the encrypted file.
//
// # Mutation model
//
// Opening a database or bin copies the encrypted file into a working copy;
// every read and mutation operates on the working copy through cipher
// streams. Closing commits the working copy back in a single rename, which
// is the only commit point. Every database mutation, and the close of a
// modified bin, draws a fresh IV and re-encrypts the body: CTR mode must
// never encrypt two different plaintexts under the same IV.
//
// # Security considerations
//
// The body is encrypted with AES-CTR and carries no MAC. The magic-string
// sentinels detect wrong keys and random corruption, not forged
// ciphertext; tampering with an encrypted file is not detected. The format
// magics leave room for an authenticated successor.
//
// Handles are single-owner and not safe for concurrent use. The core
// assumes one process at a time works on an agent directory; advisory
// locking belongs to the caller.
package transcodine
