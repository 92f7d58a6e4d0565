package idxmap

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thingByVal(rec *thing, pk []byte) Key {
	return K(Uint64(rec.Val), pk)
}

func thingByValInverted(rec *thing, pk []byte) Key {
	return K(Uint64(rec.Val), InvertKey(pk))
}

func valAbove100(rec *thing) bool {
	return rec.Val > 100
}

func byVal() *MultiIndex[thing] {
	return NewMultiIndex("by_val", thingByVal)
}

func byValIndex(m *IndexedMap[uint64, thing]) *MultiIndex[thing] {
	return m.IndexNamed("by_val").(*MultiIndex[thing])
}

type thingTable struct {
	*IndexedMap[uint64, thing]
	byVal    *MultiIndex[thing]
	cond     *MultiIndex[thing]
	inverted *MultiIndex[thing]
	custom   *MultiIndex[thing]
}

func newThingTable(opt Options) *thingTable {
	tt := &thingTable{
		byVal:    byVal(),
		cond:     NewConditionalMultiIndex("by_val_above_100", thingByVal, valAbove100),
		inverted: NewCustomDeserializationMultiIndex("by_val_above_100_inv", thingByValInverted, RecoverInvertedPK, WithCondition(valAbove100)),
		custom:   NewCustomDeserializationMultiIndex("by_val_inv", thingByValInverted, RecoverInvertedPK),
	}
	tt.IndexedMap = NewIndexedMap[uint64, thing]("things", Uint64Keys, MsgPack[thing](), opt, tt.byVal, tt.cond, tt.inverted, tt.custom)
	return tt
}

type idVal struct {
	ID  uint64
	Val uint64
}

func collectIDVals(t *testing.T, it *Iterator[thing]) []idVal {
	t.Helper()
	pairs, err := Collect(it)
	require.NoError(t, err)
	var result []idVal
	for _, p := range pairs {
		pk, err := Uint64Keys.DecodeKey(p.Key)
		require.NoError(t, err)
		require.Equal(t, pk, p.Value.ID, "Pair.Key must be the primary key of the record")
		result = append(result, idVal{p.Value.ID, p.Value.Val})
	}
	return result
}

func collectIDs(t *testing.T, it *Iterator[thing]) []uint64 {
	t.Helper()
	var ids []uint64
	for _, iv := range collectIDVals(t, it) {
		ids = append(ids, iv.ID)
	}
	return ids
}

func saveThings(t *testing.T, s Store, m *IndexedMap[uint64, thing], vals ...uint64) {
	t.Helper()
	for id, val := range vals {
		require.NoError(t, m.Save(s, uint64(id), &thing{ID: uint64(id), Val: val}))
	}
}

func TestIndexedMap_ConditionalGating(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		tt := newThingTable(Options{})
		saveThings(t, s, tt.IndexedMap, 101, 100, 101)

		got := collectIDVals(t, tt.cond.All().Range(s, nil, nil, Descending))
		assert.Equal(t, []idVal{{2, 101}, {0, 101}}, got)

		got = collectIDVals(t, tt.byVal.All().Range(s, nil, nil, Descending))
		assert.Equal(t, []idVal{{2, 101}, {0, 101}, {1, 100}}, got)

		got = collectIDVals(t, tt.inverted.All().Range(s, nil, nil, Descending))
		assert.Equal(t, []idVal{{0, 101}, {2, 101}}, got)
	})
}

func TestIndexedMap_CustomRecoveryReordersWithinGroup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		tt := newThingTable(Options{})
		saveThings(t, s, tt.IndexedMap, 100, 100, 200, 100)

		assert.Equal(t, []uint64{2, 0, 1, 3}, collectIDs(t, tt.custom.All().Range(s, nil, nil, Descending)))
		assert.Equal(t, []uint64{2, 3, 1, 0}, collectIDs(t, tt.byVal.All().Range(s, nil, nil, Descending)))

		assert.Equal(t, []uint64{0, 1, 3}, collectIDs(t, tt.byVal.Prefix(Uint64(100)).Range(s, nil, nil, Ascending)))
		assert.Equal(t, []uint64{3, 1, 0}, collectIDs(t, tt.custom.Prefix(Uint64(100)).Range(s, nil, nil, Ascending)))
		assert.Empty(t, collectIDs(t, tt.custom.Prefix(Uint64(150)).Range(s, nil, nil, Ascending)))
	})
}

func TestIndexedMap_RoundTripAndCompleteness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		tt := newThingTable(Options{})
		saveThings(t, s, tt.IndexedMap, 101, 100, 101)

		for id, val := range []uint64{101, 100, 101} {
			rec, err := tt.Load(s, uint64(id))
			require.NoError(t, err)
			assert.Equal(t, &thing{ID: uint64(id), Val: val}, rec)
		}

		// moving a record to another derived key moves its entries
		require.NoError(t, tt.Save(s, 1, &thing{ID: 1, Val: 101}))
		assert.Equal(t, []uint64{0, 1, 2}, collectIDs(t, tt.byVal.Prefix(Uint64(101)).Range(s, nil, nil, Ascending)))
		assert.Empty(t, collectIDs(t, tt.byVal.Prefix(Uint64(100)).Range(s, nil, nil, Ascending)))
		assert.Equal(t, []uint64{0, 1, 2}, collectIDs(t, tt.cond.All().Range(s, nil, nil, Ascending)))

		// moving it out of the condition removes it from the conditional index
		require.NoError(t, tt.Save(s, 1, &thing{ID: 1, Val: 50}))
		assert.Equal(t, []uint64{0, 2}, collectIDs(t, tt.cond.All().Range(s, nil, nil, Ascending)))
		assert.Equal(t, []uint64{1}, collectIDs(t, tt.byVal.Prefix(Uint64(50)).Range(s, nil, nil, Ascending)))

		require.NoError(t, tt.Remove(s, 0))
		require.NoError(t, tt.Remove(s, 1))
		require.NoError(t, tt.Remove(s, 42), "removing a missing record is not an error")
		for _, idx := range []*MultiIndex[thing]{tt.byVal, tt.cond, tt.inverted, tt.custom} {
			ids := collectIDs(t, idx.All().Range(s, nil, nil, Ascending))
			assert.Equal(t, []uint64{2}, ids, idx.Namespace())
		}
		require.NoError(t, tt.Verify(s))
	})
}

func TestIndexedMap_OrderingLaw(t *testing.T) {
	s := NewMemStore()
	tt := newThingTable(Options{})
	rnd := rand.New(rand.NewSource(1))

	var want []idVal
	for id := uint64(0); id < 200; id++ {
		val := uint64(rnd.Intn(10))
		want = append(want, idVal{id, val})
		require.NoError(t, tt.Save(s, id, &thing{ID: id, Val: val}))
	}
	sort.Slice(want, func(i, j int) bool {
		if want[i].Val != want[j].Val {
			return want[i].Val < want[j].Val
		}
		return want[i].ID < want[j].ID
	})

	asc := collectIDVals(t, tt.byVal.All().Range(s, nil, nil, Ascending))
	assert.Equal(t, want, asc)

	desc := collectIDVals(t, tt.byVal.All().Range(s, nil, nil, Descending))
	for i, j := 0, len(desc)-1; i < j; i, j = i+1, j-1 {
		desc[i], desc[j] = desc[j], desc[i]
	}
	assert.Equal(t, want, desc)
}

func TestIndexedMap_UpdateFailureLeavesStoreUntouched(t *testing.T) {
	s := NewMemStore()
	tt := newThingTable(Options{})
	saveThings(t, s, tt.IndexedMap, 101, 100, 101)

	before := s.Clone()
	myErr := errors.New("closure failed")
	for _, id := range []uint64{0, 1, 99} {
		_, err := tt.Update(s, id, func(old *thing) (*thing, error) {
			if old != nil {
				old.Val = 5
			}
			return nil, myErr
		})
		assert.Same(t, myErr, err, "the closure error must be returned verbatim")
		assert.True(t, before.Equal(s), "store changed after failed update of %d", id)
	}
}

func TestIndexedMap_Update(t *testing.T) {
	s := NewMemStore()
	tt := newThingTable(Options{})
	saveThings(t, s, tt.IndexedMap, 101, 100, 101)

	rec, err := tt.Update(s, 1, func(old *thing) (*thing, error) {
		require.NotNil(t, old)
		old.Val = 300
		return old, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(300), rec.Val)

	// the entry for the old value is gone even though the closure mutated
	// the record it received
	assert.Empty(t, collectIDs(t, tt.byVal.Prefix(Uint64(100)).Range(s, nil, nil, Ascending)))
	assert.Equal(t, []uint64{1}, collectIDs(t, tt.cond.Prefix(Uint64(300)).Range(s, nil, nil, Ascending)))

	rec, err = tt.Update(s, 9, func(old *thing) (*thing, error) {
		assert.Nil(t, old)
		return &thing{ID: 9, Val: 9}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), rec.Val)
	require.NoError(t, tt.Verify(s))
}

func TestIndexedMap_Replace(t *testing.T) {
	s := NewMemStore()
	tt := newThingTable(Options{})

	require.NoError(t, tt.Replace(s, 1, &thing{ID: 1, Val: 101}, nil))
	require.NoError(t, tt.Replace(s, 1, &thing{ID: 1, Val: 102}, &thing{ID: 1, Val: 101}))
	assert.Equal(t, []idVal{{1, 102}}, collectIDVals(t, tt.cond.All().Range(s, nil, nil, Ascending)))

	require.NoError(t, tt.Replace(s, 1, nil, &thing{ID: 1, Val: 102}))
	ok, err := tt.Has(s, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestIndexedMap_PartialFailureIsPropagated(t *testing.T) {
	mem := NewMemStore()
	tt := newThingTable(Options{})
	saveThings(t, mem, tt.IndexedMap, 101)

	// the first index removal succeeds, the second one fails
	s := &failingStore{Store: mem, failAfter: 1}
	err := tt.Save(s, 0, &thing{ID: 0, Val: 200})
	require.ErrorIs(t, err, errInjected)
	var te *TableError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, tt.cond.Namespace(), te.Index)

	rec, err := tt.Load(mem, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), rec.Val, "the primary record is written last")
	assert.Empty(t, collectIDs(t, tt.byVal.All().Range(mem, nil, nil, Ascending)), "no rollback of the first index")

	err = tt.Verify(mem)
	assert.ErrorIs(t, err, ErrCorrupted)

	n, err := tt.Rebuild(mem)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, tt.Verify(mem))
	assert.Equal(t, []uint64{0}, collectIDs(t, tt.byVal.All().Range(mem, nil, nil, Ascending)))
}

func TestIndexedMap_MissingRecordIsCorruption(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		var logs bytes.Buffer
		metrics := NewMetrics()
		tt := newThingTable(Options{
			Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
			Metrics: metrics,
		})
		saveThings(t, s, tt.IndexedMap, 101, 100, 101)

		require.NoError(t, tt.Primary().Remove(s, 2))

		it := tt.byVal.All().Range(s, nil, nil, Descending)
		defer it.Close()
		assert.False(t, it.Next())
		err := it.Err()
		require.ErrorIs(t, err, ErrCorrupted)
		var te *TableError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "things", te.Namespace)
		assert.Equal(t, "by_val", te.Index)
		assert.Equal(t, Uint64(2), te.Key)

		assert.Contains(t, logs.String(), "level=WARN")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Corruptions.WithLabelValues("by_val")))

		// entries before the broken one are still readable
		got := collectIDs(t, tt.byVal.All().Range(s, nil, Exclusive(K(Uint64(101), Uint64(2)).Joined()), Ascending))
		assert.Equal(t, []uint64{1, 0}, got)

		assert.ErrorIs(t, tt.Verify(s), ErrCorrupted)
		_, err = tt.Rebuild(s)
		require.NoError(t, err)
		require.NoError(t, tt.Verify(s))
	})
}

func TestIndexedMap_InvalidEntryIsDeserializeError(t *testing.T) {
	s := NewMemStore()
	tt := newThingTable(Options{})
	saveThings(t, s, tt.IndexedMap, 101)

	key := tt.byVal.entryKey(&thing{Val: 101}, Uint64(0))
	require.NoError(t, s.Set(key, []byte{0, 0}))
	_, err := Collect(tt.byVal.All().Range(s, nil, nil, Ascending))
	assert.ErrorIs(t, err, ErrDeserialize)

	require.NoError(t, s.Set(key, appendFixedUint32(nil, 1000)))
	_, err = Collect(tt.byVal.All().Range(s, nil, nil, Ascending))
	assert.ErrorIs(t, err, ErrDeserialize)
}

// countingStore counts point reads.
type countingStore struct {
	Store
	gets int
}

func (s *countingStore) Get(key []byte) ([]byte, error) {
	s.gets++
	return s.Store.Get(key)
}

func TestIndexedMap_ScansAreLazyAndResumable(t *testing.T) {
	mem := NewMemStore()
	tt := newThingTable(Options{})
	saveThings(t, mem, tt.IndexedMap, 5, 5, 5, 5, 5)

	s := &countingStore{Store: mem}
	it := tt.byVal.Prefix(Uint64(5)).Range(s, nil, nil, Ascending)
	assert.Equal(t, 0, s.gets)
	require.True(t, it.Next())
	assert.Equal(t, 1, s.gets)
	require.True(t, it.Next())
	assert.Equal(t, 2, s.gets)
	assert.Equal(t, uint64(1), it.Value().ID)
	resume := it.RawKey()
	require.NoError(t, it.Close())
	assert.False(t, it.Next())

	rest := collectIDs(t, tt.byVal.Prefix(Uint64(5)).Range(s, Exclusive(resume), nil, Ascending))
	assert.Equal(t, []uint64{2, 3, 4}, rest)

	s.gets = 0
	keys, err := Collect(tt.byVal.Prefix(Uint64(5)).Keys(s, nil, Inclusive(Uint64(1)), Descending))
	require.NoError(t, err)
	assert.Equal(t, 0, s.gets)
	require.Len(t, keys, 2)
	assert.Equal(t, Uint64(1), keys[0].Key)
	assert.Equal(t, Uint64(0), keys[1].Key)
}

func TestIndexedMap_OnChange(t *testing.T) {
	s := NewMemStore()
	tt := newThingTable(Options{})
	var changes []string
	tt.OnChange(func(chg *Change[thing]) {
		changes = append(changes, chg.String())
		if chg.Op == OpPut {
			assert.NotNil(t, chg.Record)
		}
	})

	saveThings(t, s, tt.IndexedMap, 1)
	require.NoError(t, tt.Save(s, 0, &thing{Val: 2}))
	require.NoError(t, tt.Remove(s, 0))
	_, _ = tt.Update(s, 0, func(old *thing) (*thing, error) { return nil, errInjected })

	assert.Equal(t, []string{
		"put things/0000000000000000",
		"put things/0000000000000000",
		"delete things/0000000000000000",
	}, changes)
}

func TestIndexedMap_VerboseLogging(t *testing.T) {
	var logs bytes.Buffer
	s := NewMemStore()
	tt := newThingTable(Options{
		Logger:  slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Verbose: true,
	})
	saveThings(t, s, tt.IndexedMap, 101)
	require.NoError(t, tt.Remove(s, 0))

	out := logs.String()
	assert.Contains(t, out, `msg="idxmap: PUT" ns=things pk=0000000000000000`)
	assert.Contains(t, out, `msg="idxmap: PUT" ns=by_val`)
	assert.Contains(t, out, `msg="idxmap: DELETE" ns=things`)
	assert.Equal(t, 4, strings.Count(out, `msg="idxmap: DELETE" ns=by_`))
}

func TestIndexedMap_Metrics(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	for _, c := range metrics.Collectors() {
		reg.MustRegister(c)
	}

	s := NewMemStore()
	tt := newThingTable(Options{Metrics: metrics})
	saveThings(t, s, tt.IndexedMap, 101, 100)
	require.NoError(t, tt.Remove(s, 1))
	_, err := Collect(tt.byVal.All().Range(s, nil, nil, Ascending))
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PrimaryWrites.WithLabelValues("things", "save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PrimaryWrites.WithLabelValues("things", "remove")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.IndexWrites.WithLabelValues("by_val", "save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IndexWrites.WithLabelValues("by_val_above_100", "save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IndexWrites.WithLabelValues("by_val", "remove")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.IndexWrites.WithLabelValues("by_val_above_100", "remove")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Scans.WithLabelValues("by_val")))

	n, err := testutil.GatherAndCount(reg, "idxmap_index_writes_total")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestIndexedMap_Construction(t *testing.T) {
	tt := newThingTable(Options{})
	assert.Len(t, tt.Indices(), 4)
	assert.Same(t, tt.cond, tt.IndexNamed("by_val_above_100"))
	assert.Nil(t, tt.IndexNamed("nope"))

	assertPanics(t, func() {
		NewIndexedMap[uint64, thing]("other", Uint64Keys, MsgPack[thing](), Options{}, tt.byVal)
	})
	assertPanics(t, func() {
		NewIndexedMap[uint64, thing]("things", Uint64Keys, MsgPack[thing](), Options{}, byVal(), byVal())
	})
	assertPanics(t, func() {
		NewIndexedMap[uint64, thing]("things", Uint64Keys, MsgPack[thing](), Options{}, NewMultiIndex("things", thingByVal))
	})
	assertPanics(t, func() {
		byVal().All()
	})
	assertPanics(t, func() {
		NewMultiIndex[thing]("x", nil)
	})
}
