// Package neighbors reassembles the paged neighbor list the interface box
// sends on the control channel.
package neighbors

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/estutasa/JackTheGripper/internal/command"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

/*
Neighbor list page (control channel, little endian):

	B0..B7   page token
	B8       page index
	B9       page count (meaningful on page 0 only)
	B10      record count n
	B11..    n records of 10 bytes: node id, then four neighbor ids (uint16 each)
*/
const (
	pageIndexByte   = 8
	pageCountByte   = 9
	recordCountByte = 10
	headerSize      = 11
	recordSize      = 10
	// MaxNeighbors is the number of neighbor slots per node.
	MaxNeighbors = 4
)

var (
	ErrNotPage   = errors.New("not a neighbor list page")
	ErrShortPage = errors.New("neighbor list page shorter than its record count")
)

// Record lists the neighbors of one node.
type Record struct {
	NodeID    packet.NodeID               `json:"sc_id"`
	Neighbors [MaxNeighbors]packet.NodeID `json:"neighbors"`
}

// Page is one decoded neighbor list page.
type Page struct {
	Index   uint8
	Count   uint8
	Records []Record
}

// ParsePage decodes one page. A page whose payload is shorter than its record
// count is returned with its header and ErrShortPage.
func ParsePage(data []byte) (Page, error) {
	if !command.IsNeighListPage(data) {
		return Page{}, ErrNotPage
	}
	if len(data) < headerSize {
		return Page{}, fmt.Errorf("%d byte page: %w", len(data), ErrShortPage)
	}
	p := Page{Index: data[pageIndexByte], Count: data[pageCountByte]}
	n := int(data[recordCountByte])
	if need := headerSize + n*recordSize; len(data) < need {
		return p, fmt.Errorf("page %d: %d records need %d bytes, got %d: %w", p.Index, n, need, len(data), ErrShortPage)
	}
	p.Records = make([]Record, n)
	for i := range p.Records {
		off := headerSize + i*recordSize
		r := &p.Records[i]
		r.NodeID = packet.NodeID(binary.LittleEndian.Uint16(data[off:]))
		for j := range r.Neighbors {
			r.Neighbors[j] = packet.NodeID(binary.LittleEndian.Uint16(data[off+2+2*j:]))
		}
	}
	return p, nil
}

// EncodePage builds one page. count is written on every page.
func EncodePage(index, count uint8, records []Record) []byte {
	b := make([]byte, headerSize, headerSize+len(records)*recordSize)
	copy(b, command.NeighListPageToken())
	b[pageIndexByte] = index
	b[pageCountByte] = count
	b[recordCountByte] = uint8(len(records))
	for _, r := range records {
		b = binary.LittleEndian.AppendUint16(b, uint16(r.NodeID))
		for _, n := range r.Neighbors {
			b = binary.LittleEndian.AppendUint16(b, uint16(n))
		}
	}
	return b
}

// EncodeList splits records into pages of at most perPage records. An empty
// list is sent as one empty page.
func EncodeList(records []Record, perPage int) [][]byte {
	if perPage <= 0 {
		perPage = 1
	}
	var pages [][]Record
	for len(records) > perPage {
		pages = append(pages, records[:perPage])
		records = records[perPage:]
	}
	pages = append(pages, records)

	out := make([][]byte, len(pages))
	for i, recs := range pages {
		out[i] = EncodePage(uint8(i), uint8(len(pages)), recs)
	}
	return out
}
