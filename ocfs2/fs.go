package ocfs2

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/markfasheh/ocfs2-tools-sub004/backend"
	"github.com/markfasheh/ocfs2-tools-sub004/blockcache"
)

// FileSystem binds an open block cache to a parsed superblock and is the
// handle every public operation in this package takes, mirroring the
// teacher's *ext4.FileSystem as the single entry point bundling storage,
// parsed metadata and configuration (see filesystem/ext4/ext4.go).
type FileSystem struct {
	cache *blockcache.Channel
	super *Superblock

	mode MountMode
	lock LockStack

	log *logrus.Entry
}

// Superblock returns the filesystem's parsed superblock.
func (fs *FileSystem) Superblock() *Superblock { return fs.super }

// BlockSize returns the filesystem's block size in bytes.
func (fs *FileSystem) BlockSize() int { return int(fs.super.BlockSize()) }

// readBlock fetches one block through the cache.
func (fs *FileSystem) readBlock(blkno uint64) ([]byte, error) {
	b, err := fs.cache.ReadBlock(blkno)
	if err != nil {
		return nil, NewError(KindIO, fmt.Sprintf("reading block %d", blkno), err)
	}
	return b, nil
}

// writeBlock stores one block through the cache.
func (fs *FileSystem) writeBlock(blkno uint64, data []byte) error {
	if err := fs.cache.WriteBlock(blkno, data); err != nil {
		return NewError(KindIO, fmt.Sprintf("writing block %d", blkno), err)
	}
	return nil
}

// readInode loads and decodes the dinode at blkno, including its id2 payload.
func (fs *FileSystem) readInode(blkno uint64) (*Inode, error) {
	b, err := fs.readBlock(blkno)
	if err != nil {
		return nil, err
	}
	in, kind, err := inodeFromHeaderBytes(b, blkno)
	if err != nil {
		return nil, err
	}
	switch kind {
	case id2Superblock:
		sb, err := superblockFromBytes(b)
		if err != nil {
			return nil, err
		}
		in.superblock = sb
	case id2LocalAlloc:
		la, err := localAllocFromBytes(b, fs.BlockSize())
		if err != nil {
			return nil, err
		}
		in.localAlloc = la
	case id2ChainList:
		cl, err := chainListFromBytes(b)
		if err != nil {
			return nil, err
		}
		in.chainList = cl
	case id2ExtentList:
		el, err := extentListFromBytes(b[inodeHeaderLen:], rootExtentListCap(fs.BlockSize()))
		if err != nil {
			return nil, err
		}
		in.extentList = el
	case id2InlineData:
		max := maxInlineData(fs.BlockSize())
		end := inodeHeaderLen + max
		if end > len(b) {
			end = len(b)
		}
		in.inlineData = append([]byte(nil), b[inodeHeaderLen:end]...)
	}
	return in, nil
}

// writeInode encodes the fixed header plus whichever id2 payload is live and
// writes the resulting block through the cache.
func (fs *FileSystem) writeInode(in *Inode) error {
	b := in.headerToBytes(fs.BlockSize())
	switch in.kind {
	case id2Superblock:
		in.superblock.toBytes(b)
	case id2LocalAlloc:
		in.localAlloc.toBytes(b, fs.BlockSize())
	case id2ChainList:
		in.chainList.toBytes(b)
	case id2ExtentList:
		in.extentList.toBytes(b[inodeHeaderLen:])
	case id2InlineData:
		copy(b[inodeHeaderLen:], in.inlineData)
	}
	return fs.writeBlock(in.Blkno, b)
}

// readExtentBlock loads and decodes the extent block at blkno.
func (fs *FileSystem) readExtentBlock(blkno uint64) (*ExtentBlock, error) {
	b, err := fs.readBlock(blkno)
	if err != nil {
		return nil, err
	}
	return extentBlockFromBytes(b, blkno)
}

// writeExtentBlock encodes and writes an extent block.
func (fs *FileSystem) writeExtentBlock(eb *ExtentBlock) error {
	return fs.writeBlock(eb.Blkno, eb.toBytes(fs.BlockSize()))
}

// readGroupDescriptor loads and decodes the group descriptor at blkno.
func (fs *FileSystem) readGroupDescriptor(blkno uint64) (*GroupDescriptor, error) {
	b, err := fs.readBlock(blkno)
	if err != nil {
		return nil, err
	}
	return groupDescriptorFromBytes(b, blkno)
}

// writeGroupDescriptor encodes and writes a group descriptor.
func (fs *FileSystem) writeGroupDescriptor(g *GroupDescriptor) error {
	return fs.writeBlock(g.Blkno, g.toBytes(fs.BlockSize()))
}

// Open parses an existing OCFS2 volume from store and returns a handle ready
// for read/write operations, mirroring the teacher's ext4.Read entry point
// (probe signature, parse superblock, wire up the block cache).
func Open(store backend.Storage, blockSizeHint int, mode MountMode) (*FileSystem, error) {
	ch, err := blockcache.Open(store, blockSizeHint, false)
	if err != nil {
		return nil, NewError(KindIO, "opening block cache", err)
	}
	ch.InitCache(256)

	hdr, err := ch.ReadBlock(SuperblockBlockNo)
	if err != nil {
		return nil, NewError(KindBadDevice, "reading superblock block", err)
	}
	in, kind, err := inodeFromHeaderBytes(hdr, SuperblockBlockNo)
	if err != nil {
		return nil, err
	}
	if kind != id2Superblock {
		return nil, NewError(KindCorruptSuper, "block 2 is not a superblock inode", nil)
	}
	sb, err := superblockFromBytes(hdr)
	if err != nil {
		return nil, err
	}
	in.superblock = sb

	if int(sb.BlockSize()) != ch.BlockSize() {
		ch.SetBlocksize(int(sb.BlockSize()))
	}

	info, err := store.Stat()
	if err != nil {
		return nil, NewError(KindIO, "querying device size", err)
	}
	if err := sb.ValidateInvariants(info.Size()); err != nil {
		return nil, err
	}

	fs := &FileSystem{
		cache: ch,
		super: sb,
		mode:  mode,
		log: logrus.WithFields(logrus.Fields{
			"fs_uuid": sb.UUID.String(),
		}),
	}
	return fs, nil
}

// Close releases the filesystem's block cache.
func (fs *FileSystem) Close() error {
	return fs.cache.Close()
}
