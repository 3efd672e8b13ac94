package batch

import (
	"context"
	"encoding/binary"
)

// alignUp rounds n up to the next multiple of a (a must be a power of two
// or simply positive; BlobStreamAlign is 8).
func alignUp(n, a uint32) uint32 {
	if a == 0 {
		return n
	}
	r := n % a
	if r == 0 {
		return n
	}
	return n + (a - r)
}

// drainBlobStream decodes the BLOB frame stream spec.md §4.3 describes -
// [clientBlobId: 8 bytes][length: 4 bytes LE][payload][pad to
// BlobStreamAlign] - out of a sealed DataCache, materializing one engine
// BLOB per frame and recording the client-id -> engine-id translation in
// ids.
//
// Grounded on DsqlBatch::execute's blob-drain loop (drain m_blobs before
// m_messages) and DsqlBatch::registerBlob/genBlobId. Frames may straddle
// DataCache windows, so decoded bytes are accumulated in a local carry
// buffer rather than threaded back through DataCache's Remained/shift
// machinery - simpler to reason about than duplicating the message-drain
// stride logic for a format with no fixed tuple size.
func drainBlobStream(ctx context.Context, cache *DataCache, store BlobStore, tx Transaction, ids *BlobIDMap) error {
	var carry []byte

	for {
		window, err := cache.Get()
		if err != nil {
			return err
		}
		if len(window) == 0 {
			break
		}
		carry = append(carry, window...)
		cache.Remained(0, 0)

		for {
			if uint32(len(carry)) < SizeofBlobHead {
				break
			}
			clientID := BlobID{
				High: binary.LittleEndian.Uint32(carry[0:4]),
				Low:  binary.LittleEndian.Uint32(carry[4:8]),
			}
			length := binary.LittleEndian.Uint32(carry[8:12])
			frameLen := SizeofBlobHead + length
			padded := alignUp(frameLen, BlobStreamAlign)

			if uint32(len(carry)) < padded {
				break
			}

			payload := carry[SizeofBlobHead : SizeofBlobHead+length]
			if err := storeOneBlob(ctx, store, tx, ids, clientID, payload); err != nil {
				return err
			}
			carry = carry[padded:]
		}
	}

	if len(carry) > 0 {
		return newErrf(KindStreamLeftover, map[string]interface{}{
			"leftoverBytes": len(carry),
		}, "incomplete blob frame: %d leftover bytes in stream", len(carry))
	}
	return nil
}

// storeOneBlob creates one engine BLOB, writes its payload as a single
// segment, closes it, and registers the client -> engine id translation.
// A failure to write or close the BLOB cancels it rather than leaving it
// dangling; a failed registration (duplicate client id) happens after the
// BLOB is already closed.
func storeOneBlob(ctx context.Context, store BlobStore, tx Transaction, ids *BlobIDMap, clientID BlobID, payload []byte) error {
	handle, err := store.Create(ctx, tx)
	if err != nil {
		return wrapErr(KindInternal, "failed to create blob", err, map[string]interface{}{"clientID": clientID})
	}

	if err := handle.PutSegment(ctx, payload); err != nil {
		_ = handle.Cancel(ctx)
		return wrapErr(KindInternal, "failed to write blob segment", err, map[string]interface{}{"clientID": clientID})
	}

	if err := handle.Close(ctx); err != nil {
		_ = handle.Cancel(ctx)
		return wrapErr(KindInternal, "failed to close blob", err, map[string]interface{}{"clientID": clientID})
	}

	if err := ids.Insert(clientID, handle.EngineID()); err != nil {
		return err
	}
	return nil
}
