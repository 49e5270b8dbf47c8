package wisim

import (
	"github.com/estutasa/JackTheGripper/internal/neighbors"
	"github.com/estutasa/JackTheGripper/internal/packet"
)

// Grid lays rows x cols cells out row by row, numbering them from first.
// Neighbor slots are east, south, west and north; 0 marks the patch edge.
func Grid(rows, cols int, first packet.NodeID) []neighbors.Record {
	id := func(r, c int) packet.NodeID {
		if r < 0 || r >= rows || c < 0 || c >= cols {
			return 0
		}
		return first + packet.NodeID(r*cols+c)
	}
	cells := make([]neighbors.Record, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cells = append(cells, neighbors.Record{
				NodeID:    id(r, c),
				Neighbors: [neighbors.MaxNeighbors]packet.NodeID{id(r, c+1), id(r+1, c), id(r, c-1), id(r-1, c)},
			})
		}
	}
	return cells
}
