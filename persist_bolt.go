package vdb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
)

type snapshotFlags uint64

const (
	sfVerBit0 = snapshotFlags(1 << iota)
	sfVerBit1
	sfVerBit2
	sfVerBit3
	sfCompressionBit0
)

const (
	sfVerMask       = (sfVerBit0 | sfVerBit1 | sfVerBit2 | sfVerBit3)
	sfVer1          = sfVerBit0
	sfZstd          = sfCompressionBit0
	sfSupportedMask = (sfVer1 | sfZstd)
	sfDefault       = sfVer1
)

const snapshotChecksumSize = 8

// BoltPersistence keeps snapshots in a bbolt file, one bucket per table,
// one key per record. A value is
//
//	flags     uvarint (format version, compression)
//	checksum  8 bytes, xxhash64 of the payload as stored
//	payload   msgpack RecordSnapshot, zstd-compressed when flagged
type BoltPersistence struct {
	bdb      *bbolt.DB
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

type BoltOptions struct {
	Compress  bool
	IsTesting bool
}

func OpenBolt(path string, opt BoltOptions) (*BoltPersistence, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("vdb: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		bdb.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		bdb.Close()
		return nil, err
	}
	return &BoltPersistence{bdb: bdb, compress: opt.Compress, enc: enc, dec: dec}, nil
}

func (bp *BoltPersistence) Bolt() *bbolt.DB {
	return bp.bdb
}

func (bp *BoltPersistence) Close() error {
	bp.dec.Close()
	err := bp.enc.Close()
	if cerr := bp.bdb.Close(); err == nil {
		err = cerr
	}
	return err
}

func (bp *BoltPersistence) LoadSnapshot(table string) ([]RecordSnapshot, error) {
	var out []RecordSnapshot
	err := bp.bdb.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			snap, err := bp.decode(v)
			if err != nil {
				return storageErrf(table, k, err, "cannot decode snapshot")
			}
			out = append(out, snap)
			return nil
		})
	})
	return out, err
}

func (bp *BoltPersistence) WriteSnapshot(table string, records []RecordSnapshot) error {
	return bp.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := btx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}
		for _, snap := range records {
			if snap.Removed {
				if err := b.Delete(snap.Key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(snap.Key, bp.encode(snap)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (bp *BoltPersistence) encode(snap RecordSnapshot) []byte {
	payload := msgpackAppend(nil, &snap)
	flags := sfDefault
	if bp.compress {
		payload = bp.enc.EncodeAll(payload, nil)
		flags |= sfZstd
	}
	buf := make([]byte, 0, binary.MaxVarintLen64+snapshotChecksumSize+len(payload))
	buf = binary.AppendUvarint(buf, uint64(flags))
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(payload))
	return append(buf, payload...)
}

func (bp *BoltPersistence) decode(data []byte) (RecordSnapshot, error) {
	var snap RecordSnapshot
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return snap, dataErrf(data, 0, nil, "invalid snapshot: bad flags")
	}
	flags := snapshotFlags(v)
	if flags&^sfSupportedMask != 0 {
		return snap, dataErrf(data, 0, nil, "invalid snapshot: unsupported flags %x", v)
	}
	if flags&sfVerMask != sfVer1 {
		return snap, dataErrf(data, 0, nil, "invalid snapshot: unsupported version %d", flags&sfVerMask)
	}
	rest := data[n:]
	if len(rest) < snapshotChecksumSize {
		return snap, dataErrf(data, n, nil, "invalid snapshot: missing checksum")
	}
	sum, payload := binary.BigEndian.Uint64(rest), rest[snapshotChecksumSize:]
	if xxhash.Sum64(payload) != sum {
		return snap, dataErrf(data, n, nil, "invalid snapshot: checksum mismatch")
	}
	if flags&sfZstd != 0 {
		var err error
		payload, err = bp.dec.DecodeAll(payload, nil)
		if err != nil {
			return snap, dataErrf(data, n+snapshotChecksumSize, err, "invalid snapshot: zstd")
		}
	}
	if err := msgpackDecode(payload, &snap); err != nil {
		return snap, dataErrf(payload, 0, err, "invalid snapshot: msgpack")
	}
	return snap, nil
}
