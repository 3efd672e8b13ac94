package batch

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru"
)

// BlobField is one BLOB- or ARRAY-typed field found while scanning a
// MessageMetadata, carrying everything translateBlobIDs needs without
// re-walking the metadata on every row.
type BlobField struct {
	Index      int
	Offset     uint32
	NullOffset uint32
	IsArray    bool
}

// MetadataScan is the result of scanning one MessageMetadata shape:
// its BLOB/ARRAY fields plus the tuple geometry Session needs for the
// message-drain stride (spec.md §4.1/§4.5).
type MetadataScan struct {
	BlobFields    []BlobField
	MessageLength uint32
	AlignedLength uint32
	Alignment     uint32
}

// MetaCache memoizes MetadataScan by a structural fingerprint of the
// source MessageMetadata, so opening many batches against the same
// prepared statement shape doesn't re-walk its field list every time.
// Grounded on client.StatementCache's sync.Map + bounded-size shape
// (client/statement_cache.go), adapted here to a size-bounded LRU since
// metadata shapes, unlike statements, are never explicitly evicted by
// name.
type MetaCache struct {
	lru *lru.Cache
}

// NewMetaCache creates a cache holding up to size distinct metadata
// shapes.
func NewMetaCache(size int) (*MetaCache, error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, wrapErr(KindInternal, "failed to create metadata cache", err, nil)
	}
	return &MetaCache{lru: c}, nil
}

// Scan returns the MetadataScan for meta, computing and caching it on
// first use.
func (mc *MetaCache) Scan(meta MessageMetadata) *MetadataScan {
	key := fingerprintMetadata(meta)
	if v, ok := mc.lru.Get(key); ok {
		return v.(*MetadataScan)
	}
	scan := scanMetadata(meta)
	mc.lru.Add(key, scan)
	return scan
}

// scanMetadata walks every field once, grounded on
// DsqlBatch::DsqlBatch's constructor-time BLOB/ARRAY field scan.
func scanMetadata(meta MessageMetadata) *MetadataScan {
	scan := &MetadataScan{
		MessageLength: meta.MessageLength(),
		AlignedLength: meta.AlignedLength(),
		Alignment:     meta.Alignment(),
	}
	for i := 0; i < meta.Count(); i++ {
		switch meta.Type(i) {
		case TypeBlob:
			scan.BlobFields = append(scan.BlobFields, BlobField{
				Index: i, Offset: meta.Offset(i), NullOffset: meta.NullOffset(i),
			})
		case TypeArray:
			scan.BlobFields = append(scan.BlobFields, BlobField{
				Index: i, Offset: meta.Offset(i), NullOffset: meta.NullOffset(i), IsArray: true,
			})
		}
	}
	return scan
}

// fingerprintMetadata builds an xxhash fingerprint over a MessageMetadata's
// shape, used as the MetaCache key. Two distinct *instances* describing
// the same tuple layout hash identically, which is the point: the scan
// result only depends on the shape, not the instance.
func fingerprintMetadata(meta MessageMetadata) uint64 {
	buf := make([]byte, 0, 16+meta.Count()*12)
	var tmp [4]byte

	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}

	putU32(meta.MessageLength())
	putU32(meta.AlignedLength())
	putU32(meta.Alignment())
	putU32(uint32(meta.Count()))
	for i := 0; i < meta.Count(); i++ {
		putU32(uint32(meta.Type(i)))
		putU32(meta.Offset(i))
		putU32(meta.NullOffset(i))
	}

	return xxhash.Sum64(buf)
}
