package recsplit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"sort"

	"github.com/blockforge/snapseg/eliasfano"
	"github.com/blockforge/snapseg/filter"
)

// Feature bits of the index file.
const (
	featureEnums              = 0b1
	featureLessFalsePositives = 0b10
)

// Build assigns buckets, finds all seeds and writes the index file. The
// file appears at path atomically: it is written to a temp file in the
// same directory, fsynced and renamed over.
func (b *Builder) Build(path string) error {
	n := len(b.keys)
	var bucketCount uint64
	if n > 0 {
		bucketCount = (uint64(n) + uint64(b.cfg.BucketSize) - 1) / uint64(b.cfg.BucketSize)
	}

	type assigned struct {
		bucket uint64
		fp     uint64
		value  uint64
	}
	keys := make([]assigned, n)
	for i, k := range b.keys {
		keys[i] = assigned{bucket: remap(k.hi, bucketCount), fp: k.fp, value: k.value}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].bucket != keys[j].bucket {
			return keys[i].bucket < keys[j].bucket
		}
		return keys[i].fp < keys[j].fp
	})
	for i := 1; i < n; i++ {
		if keys[i].bucket == keys[i-1].bucket && keys[i].fp == keys[i-1].fp {
			return fmt.Errorf("in bucket %d: %w", keys[i].bucket, ErrCollision)
		}
	}

	var rw riceWriter
	records := make([]uint64, 0, n)
	cumKeys := make([]uint64, 0, bucketCount+1)
	bitPos := make([]uint64, 0, bucketCount+1)

	var fps, values []uint64
	i := 0
	for bucket := uint64(0); bucket < bucketCount; bucket++ {
		cumKeys = append(cumKeys, uint64(i))
		bitPos = append(bitPos, rw.bitCount)
		fps, values = fps[:0], values[:0]
		for ; i < n && keys[i].bucket == bucket; i++ {
			fps = append(fps, keys[i].fp)
			values = append(values, keys[i].value)
		}
		if len(fps) == 0 {
			continue
		}
		if err := b.split(0, fps, values, &rw, &records); err != nil {
			return err
		}
	}
	cumKeys = append(cumKeys, uint64(n))
	bitPos = append(bitPos, rw.bitCount)

	maxValue := b.maxOffset
	if b.cfg.Enums && n > 0 {
		maxValue = uint64(n) - 1
	}
	bytesPerRec := (bits.Len64(maxValue) + 7) / 8
	if bytesPerRec == 0 {
		bytesPerRec = 1
	}

	var out bytes.Buffer
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], b.cfg.BaseOrdinal)
	out.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(n))
	out.Write(num[:])
	out.WriteByte(byte(bytesPerRec))
	for _, rec := range records {
		binary.BigEndian.PutUint64(num[:], rec)
		out.Write(num[8-bytesPerRec:])
	}
	binary.BigEndian.PutUint64(num[:], bucketCount)
	out.Write(num[:])
	binary.BigEndian.PutUint16(num[:2], uint16(b.cfg.BucketSize))
	out.Write(num[:2])
	binary.BigEndian.PutUint16(num[:2], b.tree.leafSize)
	out.Write(num[:2])
	binary.BigEndian.PutUint32(num[:4], b.cfg.Salt)
	out.Write(num[:4])
	out.WriteByte(byte(len(startSeeds)))
	for _, seed := range startSeeds {
		binary.BigEndian.PutUint64(num[:], seed)
		out.Write(num[:])
	}

	var features byte
	if b.cfg.Enums {
		features |= featureEnums
	}
	if b.cfg.LessFalsePositives {
		features |= featureLessFalsePositives
	}
	out.WriteByte(features)

	if b.cfg.Enums && n > 0 {
		ef := eliasfano.New(uint64(n), b.maxOffset)
		for _, offset := range b.offsets {
			ef.Add(offset)
		}
		ef.Build()
		if err := ef.AppendTo(&out); err != nil {
			return err
		}
	}
	if b.cfg.LessFalsePositives {
		bloom, err := filter.NewBloom(uint64(n), b.cfg.FalsePositiveRate)
		if err != nil {
			return err
		}
		for _, h := range b.lfpHashes {
			bloom.AddHash(h[0], h[1])
		}
		blob := bloom.Bytes()
		binary.BigEndian.PutUint32(num[:4], uint32(len(blob)))
		out.Write(num[:4])
		out.Write(blob)
	}

	binary.BigEndian.PutUint32(num[:4], uint32(len(rw.words)))
	out.Write(num[:4])
	for _, word := range rw.words {
		binary.LittleEndian.PutUint64(num[:], word)
		out.Write(num[:])
	}

	if n > 0 {
		efCum := eliasfano.New(uint64(len(cumKeys)), uint64(n))
		for _, c := range cumKeys {
			efCum.Add(c)
		}
		efCum.Build()
		if err := efCum.AppendTo(&out); err != nil {
			return err
		}
		efBit := eliasfano.New(uint64(len(bitPos)), rw.bitCount)
		for _, p := range bitPos {
			efBit.Add(p)
		}
		efBit.Build()
		if err := efBit.AppendTo(&out); err != nil {
			return err
		}
	}

	b.logger.Debug("index built",
		"path", path, "keys", n, "buckets", bucketCount,
		"seed_bits", rw.bitCount, "bytes_per_rec", bytesPerRec)
	return writeFileAtomic(path, out.Bytes())
}

// writeFileAtomic writes data to a temp file in path's directory, fsyncs
// it, renames it over path and fsyncs the directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
