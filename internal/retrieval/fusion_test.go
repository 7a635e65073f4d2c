package retrieval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemolabs/recalld/internal/memory"
)

func fakeRecord(n byte) memory.Record {
	var id uuid.UUID
	id[15] = n
	return memory.Record{ID: id, Content: string(rune('a' + n))}
}

func list(name string, weight float64, recs ...memory.Record) channelList {
	items := make([]candidate, len(recs))
	for i, r := range recs {
		items[i] = candidate{rec: r, rank: i + 1}
	}
	return channelList{name: name, weight: weight, items: items}
}

func resultIDs(results []Result) []uuid.UUID {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.Record.ID
	}
	return ids
}

func TestFuseConsensusBeatsSingleChannel(t *testing.T) {
	a, b := fakeRecord(1), fakeRecord(2)

	// a tops the vector list; b is second there but also tops lexical.
	results := fuse([]channelList{
		list(ChannelVector, 0.5, a, b),
		list(ChannelLexical, 0.5, b),
	}, 10)

	require.Len(t, results, 2)
	assert.Equal(t, b.ID, results[0].Record.ID)
	assert.Equal(t, []string{ChannelVector, ChannelLexical}, results[0].Channels)
	assert.Equal(t, []string{ChannelVector}, results[1].Channels)
}

func TestFuseScoresMatchFormula(t *testing.T) {
	a, b := fakeRecord(1), fakeRecord(2)

	results := fuse([]channelList{
		list(ChannelVector, 0.75, a, b),
		list(ChannelLexical, 0.25, b),
	}, 10)

	require.Len(t, results, 2)
	require.Equal(t, b.ID, results[0].Record.ID)
	assert.InDelta(t, 0.75/62+0.25/61, results[0].Score, 1e-12)
	assert.InDelta(t, 0.75/61, results[1].Score, 1e-12)
}

func TestFuseDeduplicatesByID(t *testing.T) {
	a := fakeRecord(1)

	results := fuse([]channelList{
		list(ChannelVector, 0.6, a),
		list(ChannelLexical, 0.4, a),
	}, 10)

	require.Len(t, results, 1)
	assert.Equal(t, []string{ChannelVector, ChannelLexical}, results[0].Channels)
}

func TestFuseTieBreaksOnVectorThenLexicalRank(t *testing.T) {
	a, b := fakeRecord(1), fakeRecord(2)

	// Symmetric ranks with equal weights: identical scores. The better
	// vector rank must come first.
	results := fuse([]channelList{
		list(ChannelVector, 0.5, a, b),
		list(ChannelLexical, 0.5, b, a),
	}, 10)

	require.Len(t, results, 2)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-12)
	assert.Equal(t, a.ID, results[0].Record.ID)
}

func TestFuseIsDeterministic(t *testing.T) {
	recs := make([]memory.Record, 9)
	for i := range recs {
		recs[i] = fakeRecord(byte(i + 1))
	}
	lists := []channelList{
		list(ChannelVector, 0.6, recs[0], recs[3], recs[6], recs[1]),
		list(ChannelLexical, 0.2, recs[2], recs[0], recs[5], recs[8]),
		list(ChannelGraph, 0.2, recs[4], recs[0], recs[7]),
	}

	first := resultIDs(fuse(lists, 10))
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, resultIDs(fuse(lists, 10)))
	}
}

func TestFuseHonorsLimit(t *testing.T) {
	a, b, c := fakeRecord(1), fakeRecord(2), fakeRecord(3)

	results := fuse([]channelList{list(ChannelVector, 1.0, a, b, c)}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, resultIDs(results))
}

func TestRenormalizeKeepsProportions(t *testing.T) {
	lists := []channelList{
		{name: ChannelVector, weight: 0.6},
		{name: ChannelLexical, weight: 0.2},
	}
	renormalize(lists)
	assert.InDelta(t, 0.75, lists[0].weight, 1e-12)
	assert.InDelta(t, 0.25, lists[1].weight, 1e-12)

	zeroed := []channelList{
		{name: ChannelLexical, weight: 0},
		{name: ChannelGraph, weight: 0},
	}
	renormalize(zeroed)
	assert.InDelta(t, 0.5, zeroed[0].weight, 1e-12)
	assert.InDelta(t, 0.5, zeroed[1].weight, 1e-12)
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights.Validate())
	assert.NoError(t, Weights{Vector: 1}.Validate())

	assert.ErrorIs(t, Weights{Vector: 0.5, Lexical: 0.5, Graph: 0.5}.Validate(), ErrInvalidWeights)
	assert.ErrorIs(t, Weights{Vector: 1.2, Lexical: -0.2}.Validate(), ErrInvalidWeights)
	assert.ErrorIs(t, Weights{}.Validate(), ErrInvalidWeights)
}
