package index

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/libraz/mygram-db/pkg/errdefs"
)

// Index dump format (little-endian):
//
//	magic "MGIX" · u32 version · u64 term_count ·
//	repeated term_count times:
//	  u32 term_len · term bytes · u8 strategy ·
//	  delta:  u32 count · count × u32
//	  bitmap: u32 byte_len · portable roaring bytes
const (
	indexMagic   = "MGIX"
	indexVersion = 1
)

// WriteTo serializes the posting list.
func (p *PostingList) WriteTo(w io.Writer) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := binary.Write(w, binary.LittleEndian, uint8(p.strategy)); err != nil {
		return err
	}
	if p.strategy == StrategyBitmap {
		buf, err := p.bitmap.ToBytes()
		if err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(buf))); err != nil {
			return err
		}
		_, err = w.Write(buf)
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.delta))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, p.delta)
}

// ReadFrom replaces the posting list contents from the stream.
func (p *PostingList) ReadFrom(r io.Reader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var strategy uint8
	if err := binary.Read(r, binary.LittleEndian, &strategy); err != nil {
		return errdefs.Codecf("posting strategy: %v", err)
	}
	switch Strategy(strategy) {
	case StrategyBitmap:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return errdefs.Codecf("posting bitmap length: %v", err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return errdefs.Codecf("posting bitmap payload: %v", err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(buf); err != nil {
			return errdefs.Codecf("posting bitmap decode: %v", err)
		}
		p.strategy = StrategyBitmap
		p.bitmap = bm
		p.delta = nil
	case StrategyDelta:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return errdefs.Codecf("posting delta length: %v", err)
		}
		delta := make([]uint32, n)
		if err := binary.Read(r, binary.LittleEndian, delta); err != nil {
			return errdefs.Codecf("posting delta payload: %v", err)
		}
		p.strategy = StrategyDelta
		p.delta = delta
		p.bitmap = nil
	default:
		return errdefs.Codecf("unknown posting strategy %d", strategy)
	}
	return nil
}

// Save writes the whole index to w.
func (ix *Index) Save(w io.Writer) error {
	handles := ix.snapshotHandles()

	if _, err := w.Write([]byte(indexMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(indexVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(handles))); err != nil {
		return err
	}
	for _, h := range handles {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(h.term))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(h.term)); err != nil {
			return err
		}
		if err := h.posting.WriteTo(w); err != nil {
			return fmt.Errorf("term %q: %w", h.term, err)
		}
	}
	return nil
}

// Load replaces the index contents from r. The term map is rebuilt in place
// so long-lived Index pointers stay valid.
func (ix *Index) Load(r io.Reader) error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return errdefs.Codecf("index magic: %v", err)
	}
	if string(magic) != indexMagic {
		return errdefs.Codecf("bad index magic %q", magic)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return errdefs.Codecf("index version: %v", err)
	}
	if version != indexVersion {
		return errdefs.Codecf("unsupported index version %d", version)
	}
	var termCount uint64
	if err := binary.Read(r, binary.LittleEndian, &termCount); err != nil {
		return errdefs.Codecf("index term count: %v", err)
	}

	postings := make(map[string]*PostingList, termCount)
	for i := uint64(0); i < termCount; i++ {
		var termLen uint32
		if err := binary.Read(r, binary.LittleEndian, &termLen); err != nil {
			return errdefs.Codecf("term length: %v", err)
		}
		termBytes := make([]byte, termLen)
		if _, err := io.ReadFull(r, termBytes); err != nil {
			return errdefs.Codecf("term bytes: %v", err)
		}
		p := NewPostingList(ix.threshold)
		if err := p.ReadFrom(r); err != nil {
			return err
		}
		postings[string(termBytes)] = p
	}

	ix.mu.Lock()
	ix.postings = postings
	ix.mu.Unlock()
	return nil
}
