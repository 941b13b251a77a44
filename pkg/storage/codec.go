package storage

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/types"
)

// Dump file format (little-endian):
//
//	magic "MGDS" · u32 version · u32 next_doc_id · u32 gtid_len · gtid ·
//	u64 doc_count ·
//	repeated doc_count times:
//	  u32 doc_id · u32 pk_len · pk · u32 attr_count ·
//	  repeated attr_count times:
//	    u32 name_len · name · u8 tag · payload
//
// Tags: 0 bool(1B) 1 i8 2 u8 3 i16 4 u16 5 i32 6 u32 7 i64
// 8 string(u32 len + bytes) 9 f64.
const (
	storeMagic   = "MGDS"
	storeVersion = 1
)

// Save writes the store and the replication cursor to w.
func (s *DocumentStore) Save(w io.Writer, gtid string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(storeMagic); err != nil {
		return err
	}
	if err := writeU32(bw, storeVersion); err != nil {
		return err
	}
	if err := writeU32(bw, uint32(s.nextDocID)); err != nil {
		return err
	}
	if err := writeBytes(bw, []byte(gtid)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(s.idToPK))); err != nil {
		return err
	}

	for id, pk := range s.idToPK {
		if err := writeU32(bw, id); err != nil {
			return err
		}
		if err := writeBytes(bw, []byte(pk)); err != nil {
			return err
		}
		attrs := s.attrs[id]
		count := uint32(0)
		for _, v := range attrs {
			if !v.IsNull() {
				count++
			}
		}
		if err := writeU32(bw, count); err != nil {
			return err
		}
		for name, v := range attrs {
			if v.IsNull() {
				continue
			}
			if err := writeBytes(bw, []byte(name)); err != nil {
				return err
			}
			if err := writeValue(bw, v); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Load replaces the store contents from r and returns the embedded
// replication cursor. The maps are rebuilt behind the existing instance.
func (s *DocumentStore) Load(r io.Reader) (string, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return "", errdefs.Codecf("store magic: %v", err)
	}
	if string(magic) != storeMagic {
		return "", errdefs.Codecf("bad store magic %q", magic)
	}
	version, err := readU32(br)
	if err != nil {
		return "", errdefs.Codecf("store version: %v", err)
	}
	if version != storeVersion {
		return "", errdefs.Codecf("unsupported store version %d", version)
	}
	nextDocID, err := readU32(br)
	if err != nil {
		return "", errdefs.Codecf("next doc id: %v", err)
	}
	gtid, err := readBytes(br)
	if err != nil {
		return "", errdefs.Codecf("gtid: %v", err)
	}
	var docCount uint64
	if err := binary.Read(br, binary.LittleEndian, &docCount); err != nil {
		return "", errdefs.Codecf("doc count: %v", err)
	}

	idToPK := make(map[DocID]string, docCount)
	pkToID := make(map[string]DocID, docCount)
	attrs := make(map[DocID]map[string]types.Value)

	for i := uint64(0); i < docCount; i++ {
		id, err := readU32(br)
		if err != nil {
			return "", errdefs.Codecf("doc id: %v", err)
		}
		pkBytes, err := readBytes(br)
		if err != nil {
			return "", errdefs.Codecf("primary key: %v", err)
		}
		pk := string(pkBytes)
		attrCount, err := readU32(br)
		if err != nil {
			return "", errdefs.Codecf("attr count: %v", err)
		}
		var docAttrs map[string]types.Value
		if attrCount > 0 {
			docAttrs = make(map[string]types.Value, attrCount)
			for j := uint32(0); j < attrCount; j++ {
				nameBytes, err := readBytes(br)
				if err != nil {
					return "", errdefs.Codecf("attr name: %v", err)
				}
				v, err := readValue(br)
				if err != nil {
					return "", err
				}
				docAttrs[string(nameBytes)] = v
			}
		}
		idToPK[id] = pk
		pkToID[pk] = id
		if docAttrs != nil {
			attrs[id] = docAttrs
		}
	}

	s.mu.Lock()
	s.idToPK = idToPK
	s.pkToID = pkToID
	s.attrs = attrs
	s.nextDocID = uint64(nextDocID)
	s.mu.Unlock()
	return string(gtid), nil
}

// SaveToFile writes a dump file.
func (s *DocumentStore) SaveToFile(path, gtid string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Save(f, gtid); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFromFile reads a dump file and returns the embedded cursor.
func (s *DocumentStore) LoadFromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.Load(f)
}

func writeU32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeValue(w io.Writer, v types.Value) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(v.Tag())); err != nil {
		return err
	}
	switch v.Tag() {
	case types.TagBool:
		b := uint8(0)
		if v.Bool() {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case types.TagInt8:
		return binary.Write(w, binary.LittleEndian, int8(v.Int64()))
	case types.TagUint8:
		return binary.Write(w, binary.LittleEndian, uint8(v.Uint64()))
	case types.TagInt16:
		return binary.Write(w, binary.LittleEndian, int16(v.Int64()))
	case types.TagUint16:
		return binary.Write(w, binary.LittleEndian, uint16(v.Uint64()))
	case types.TagInt32:
		return binary.Write(w, binary.LittleEndian, int32(v.Int64()))
	case types.TagUint32:
		return binary.Write(w, binary.LittleEndian, uint32(v.Uint64()))
	case types.TagInt64:
		return binary.Write(w, binary.LittleEndian, v.Int64())
	case types.TagString:
		return writeBytes(w, []byte(v.Str()))
	case types.TagFloat64:
		return binary.Write(w, binary.LittleEndian, v.Float64())
	default:
		return errdefs.Codecf("unencodable tag %d", v.Tag())
	}
}

func readValue(r io.Reader) (types.Value, error) {
	var tag uint8
	if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
		return types.Value{}, errdefs.Codecf("attr tag: %v", err)
	}
	switch types.ValueTag(tag) {
	case types.TagBool:
		var b uint8
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return types.Value{}, errdefs.Codecf("bool payload: %v", err)
		}
		return types.Bool(b != 0), nil
	case types.TagInt8:
		var n int8
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return types.Value{}, errdefs.Codecf("i8 payload: %v", err)
		}
		return types.Int8(n), nil
	case types.TagUint8:
		var n uint8
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return types.Value{}, errdefs.Codecf("u8 payload: %v", err)
		}
		return types.Uint8(n), nil
	case types.TagInt16:
		var n int16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return types.Value{}, errdefs.Codecf("i16 payload: %v", err)
		}
		return types.Int16(n), nil
	case types.TagUint16:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return types.Value{}, errdefs.Codecf("u16 payload: %v", err)
		}
		return types.Uint16(n), nil
	case types.TagInt32:
		var n int32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return types.Value{}, errdefs.Codecf("i32 payload: %v", err)
		}
		return types.Int32(n), nil
	case types.TagUint32:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return types.Value{}, errdefs.Codecf("u32 payload: %v", err)
		}
		return types.Uint32(n), nil
	case types.TagInt64:
		var n int64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return types.Value{}, errdefs.Codecf("i64 payload: %v", err)
		}
		return types.Int64(n), nil
	case types.TagString:
		b, err := readBytes(r)
		if err != nil {
			return types.Value{}, errdefs.Codecf("string payload: %v", err)
		}
		return types.String(string(b)), nil
	case types.TagFloat64:
		var f float64
		if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
			return types.Value{}, errdefs.Codecf("f64 payload: %v", err)
		}
		return types.Float64(f), nil
	default:
		return types.Value{}, errdefs.Codecf("unknown attr tag %d", tag)
	}
}
