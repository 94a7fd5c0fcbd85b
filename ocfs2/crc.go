package ocfs2

import "hash/crc32"

// castagnoliTable is the CRC32c polynomial table jbd2 and OCFS2 both use for
// block checksums. hash/crc32 already implements Castagnoli in the standard
// library, so unlike the rest of the codec (grounded on the teacher's
// ext4/crc package) this one piece deliberately stays on the stdlib: no
// third-party CRC implementation appears anywhere in the retrieved pack, and
// reimplementing Castagnoli by hand would just be a slower, riskier copy of
// what crc32.MakeTable already provides.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c computes CRC32c(seed, data), continuing from a previous seed. It
// derives the filesystem's checksumSeed (crc32c(~0, uuid)) and xattr name
// hashes; this package computes no group descriptor or directory block
// checksums.
func crc32c(seed uint32, data []byte) uint32 {
	return crc32.Update(seed, castagnoliTable, data)
}

// initialChecksumSeed computes the per-filesystem checksum seed from the
// volume UUID: crc32c(~0, uuid), matching the teacher's documented convention.
func initialChecksumSeed(uuid []byte) uint32 {
	return crc32c(^uint32(0), uuid)
}
