package retrieval

import (
	"bytes"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/mnemolabs/recalld/internal/memory"
)

// rrfK is the reciprocal rank fusion smoothing constant, conventionally 60.
const rrfK = 60

// candidate is one record at its 1-indexed rank within a channel.
type candidate struct {
	rec  memory.Record
	rank int
}

// channelList is one channel's ranked candidates with its share of the
// fusion mass. Weights are expected to sum to 1 across the lists passed
// to fuse.
type channelList struct {
	name   string
	weight float64
	items  []candidate
}

// fuse merges the lists with reciprocal rank fusion: each record scores
// the sum of weight/(rrfK+rank) over every list containing it, absence
// contributing nothing. Records are deduplicated by id before the final
// descending sort. Ties fall back to the better vector rank, then
// lexical, then graph, then the record id, so a fixed input always
// produces the same order.
func fuse(lists []channelList, limit int) []Result {
	type entry struct {
		rec      memory.Record
		score    float64
		ranks    map[string]int
		channels []string
	}

	byID := make(map[uuid.UUID]*entry)
	var entries []*entry
	for _, l := range lists {
		for _, c := range l.items {
			en := byID[c.rec.ID]
			if en == nil {
				en = &entry{rec: c.rec, ranks: make(map[string]int, len(lists))}
				byID[c.rec.ID] = en
				entries = append(entries, en)
			}
			en.score += l.weight / float64(rrfK+c.rank)
			en.ranks[l.name] = c.rank
			en.channels = append(en.channels, l.name)
		}
	}

	rankOf := func(en *entry, channel string) int {
		if r, ok := en.ranks[channel]; ok {
			return r
		}
		return math.MaxInt
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.score != b.score {
			return a.score > b.score
		}
		for _, ch := range []string{ChannelVector, ChannelLexical, ChannelGraph} {
			if ra, rb := rankOf(a, ch), rankOf(b, ch); ra != rb {
				return ra < rb
			}
		}
		return bytes.Compare(a.rec.ID[:], b.rec.ID[:]) < 0
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Result, len(entries))
	for i, en := range entries {
		out[i] = Result{Record: en.rec, Score: en.score, Channels: en.channels}
	}
	return out
}
