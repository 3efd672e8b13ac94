package batch

// BlobIDMap is a bijective client-id -> engine-id registry (spec.md §4.2):
// each client BlobID is inserted exactly once and removed the first time
// it is used by the message stream, so a second use of the same client id
// is a genuine protocol error rather than a stale lookup.
//
// Grounded on DsqlBatch::registerBlob/genBlobId's GenericMap<Pair<...>>
// usage; a plain map is enough here since spec.md §5 already requires
// exclusive per-session access, so there's nothing for a concurrent map
// to protect against.
type BlobIDMap struct {
	m map[BlobID]BlobID
}

// NewBlobIDMap creates an empty map.
func NewBlobIDMap() *BlobIDMap {
	return &BlobIDMap{m: make(map[BlobID]BlobID)}
}

// Insert adds a client id -> engine id mapping. Re-inserting a client id
// already present is a protocol error (DUPLICATE_BLOB_ID) - spec.md §9
// resolves the original's ambiguous duplicate-registration behavior this
// way rather than silently overwriting.
func (b *BlobIDMap) Insert(clientID, engineID BlobID) error {
	if _, exists := b.m[clientID]; exists {
		return newErrf(KindDuplicateBlobID, map[string]interface{}{
			"clientID": clientID,
		}, "blob id %v already registered in this batch", clientID)
	}
	b.m[clientID] = engineID
	return nil
}

// Lookup returns the engine id for a client id, without removing it.
func (b *BlobIDMap) Lookup(clientID BlobID) (BlobID, bool) {
	engineID, ok := b.m[clientID]
	return engineID, ok
}

// Remove returns and deletes the engine id for a client id; a client id
// that was never registered (or was already consumed) is UNKNOWN_BLOB_ID.
func (b *BlobIDMap) Remove(clientID BlobID) (BlobID, error) {
	engineID, ok := b.m[clientID]
	if !ok {
		return BlobID{}, newErrf(KindUnknownBlobID, map[string]interface{}{
			"clientID": clientID,
		}, "blob id %v was never registered in this batch", clientID)
	}
	delete(b.m, clientID)
	return engineID, nil
}

// Len reports how many client ids are currently registered but unused.
func (b *BlobIDMap) Len() int { return len(b.m) }

// Clear empties the map.
func (b *BlobIDMap) Clear() {
	b.m = make(map[BlobID]BlobID)
}
