package database

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db := New()
	require.NoError(t, db.Commit(NewBatch().
		CreateNode("root/loop").
		CreateNode("root/loop/inner").
		Register("root/meas_name", "m1").
		Register("root/loop/loop_value", 0.0).
		Register("root/loop/inner/bias_voltage", 1.5)))
	return db
}

func TestRegisterSetGet(t *testing.T) {
	db := New()

	require.NoError(t, db.Register("root/a", 1))
	v, err := db.GetValue("root/a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, db.SetValue("root/a", 2))
	v, err = db.GetValue("root/a")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestErrors(t *testing.T) {
	db := newTestDB(t)

	testCases := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{name: "duplicate entry", op: func() error { return db.Register("root/meas_name", "x") }, wantErr: ErrDuplicateEntry},
		{name: "set unknown", op: func() error { return db.SetValue("root/missing", 1) }, wantErr: ErrUnknownEntry},
		{name: "get unknown", op: func() error { _, err := db.GetValue("root/missing"); return err }, wantErr: ErrUnknownEntry},
		{name: "delete unknown", op: func() error { return db.Delete("root/missing") }, wantErr: ErrUnknownEntry},
		{name: "register in missing node", op: func() error { return db.Register("root/nope/a", 1) }, wantErr: ErrUnknownNode},
		{name: "duplicate node", op: func() error { return db.CreateNode("root/loop") }, wantErr: ErrDuplicateNode},
		{name: "orphan node", op: func() error { return db.CreateNode("root/a/b") }, wantErr: ErrUnknownNode},
		{name: "expose unknown", op: func() error { return db.AddAccessException("root", "loop", "nothing") }, wantErr: ErrUnknownEntry},
		{name: "remove missing exception", op: func() error { return db.RemoveAccessException("root", "loop_value") }, wantErr: ErrUnknownEntry},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.op(), tc.wantErr)
		})
	}
}

func TestLookup_WalksUp(t *testing.T) {
	db := newTestDB(t)

	v, err := db.Lookup("root/loop/inner", "loop_value")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = db.Lookup("root/loop/inner", "meas_name")
	require.NoError(t, err)
	assert.Equal(t, "m1", v)

	_, err = db.Lookup("root", "bias_voltage")
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestAccessException_ExposesNestedEntry(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.AddAccessException("root/loop", "inner", "bias_voltage"))
	require.NoError(t, db.AddAccessException("root", "loop", "bias_voltage"))

	full, err := db.Resolve("root", "bias_voltage")
	require.NoError(t, err)
	assert.Equal(t, "root/loop/inner/bias_voltage", full)

	assert.ErrorIs(t, db.AddAccessException("root", "loop", "bias_voltage"), ErrDuplicateEntry)
	assert.ErrorIs(t, db.Register("root/bias_voltage", 0), ErrDuplicateEntry)
}

func TestAccessException_IsReversible(t *testing.T) {
	db := newTestDB(t)
	before := db.ListAccessible("root")

	require.NoError(t, db.AddAccessException("root/loop", "inner", "bias_voltage"))
	require.NoError(t, db.AddAccessException("root", "loop", "bias_voltage"))
	assert.Contains(t, db.ListAccessible("root"), "bias_voltage")

	require.NoError(t, db.RemoveAccessException("root", "bias_voltage"))
	require.NoError(t, db.RemoveAccessException("root/loop", "bias_voltage"))
	assert.Equal(t, before, db.ListAccessible("root"))
}

func TestCommit_IsAtomic(t *testing.T) {
	db := newTestDB(t)
	before := db.ListAll()

	err := db.Commit(NewBatch().
		Register("root/fresh", 1).
		CreateNode("root/other").
		Register("root/meas_name", "dup"))

	require.ErrorIs(t, err, ErrDuplicateEntry)
	assert.Equal(t, before, db.ListAll())
	assert.False(t, db.HasNode("root/other"))
}

func TestDeleteNode_RemovesEverythingBeneath(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AddAccessException("root", "loop", "loop_value"))

	require.NoError(t, db.DeleteNode("root/loop"))

	assert.Equal(t, []string{"root/meas_name"}, db.ListAll())
	assert.False(t, db.HasNode("root/loop/inner"))
	assert.Empty(t, db.AccessExceptions("root"))
}

func TestExcludedEntriesAreHidden(t *testing.T) {
	db := New()
	require.NoError(t, db.Register("root/threads", []string{}))
	require.NoError(t, db.Register("root/a", 1))

	assert.Equal(t, []string{"root/a"}, db.ListAll())
	assert.Equal(t, []string{"a"}, db.ListAccessible("root"))
	_, err := db.GetValue("root/threads")
	assert.NoError(t, err)
}

func TestRunning_FreezesStructure(t *testing.T) {
	db := newTestDB(t)
	db.PrepareForRunning()

	assert.ErrorIs(t, db.Register("root/new", 1), ErrRunning)
	assert.NoError(t, db.SetValue("root/meas_name", "m2"))

	db.FinishRunning()
	assert.NoError(t, db.Register("root/new", 1))
}

func TestSubscribe(t *testing.T) {
	db := newTestDB(t)
	var got []Change
	unsubscribe := db.Subscribe("root/meas_name", func(c Change) { got = append(got, c) })

	require.NoError(t, db.SetValue("root/meas_name", "m2"))
	require.NoError(t, db.SetValue("root/loop/loop_value", 1.0))
	unsubscribe()
	unsubscribe()
	require.NoError(t, db.SetValue("root/meas_name", "m3"))

	require.Len(t, got, 1)
	assert.Equal(t, Change{Kind: EntryUpdated, Path: "root/meas_name", Value: "m2"}, got[0])
}

func TestSubscribeAll_SeesStructuralChanges(t *testing.T) {
	db := New()
	var kinds []ChangeKind
	db.SubscribeAll(func(c Change) { kinds = append(kinds, c.Kind) })

	require.NoError(t, db.Register("root/a", 1))
	require.NoError(t, db.SetValue("root/a", 2))
	require.NoError(t, db.Delete("root/a"))

	assert.Equal(t, []ChangeKind{EntryAdded, EntryUpdated, EntryRemoved}, kinds)
}

func TestObserverCanWriteBack(t *testing.T) {
	db := New()
	require.NoError(t, db.Register("root/a", 0))
	require.NoError(t, db.Register("root/b", 0))

	db.Subscribe("root/a", func(c Change) {
		require.NoError(t, db.SetValue("root/b", c.Value.(int)*10))
	})
	var seen []any
	db.Subscribe("root/b", func(c Change) { seen = append(seen, c.Value) })

	require.NoError(t, db.SetValue("root/a", 1))
	require.NoError(t, db.SetValue("root/a", 2))

	assert.Equal(t, []any{10, 20}, seen)
}

func TestConcurrentWrites(t *testing.T) {
	db := New()
	require.NoError(t, db.Register("root/counter", 0))
	var mu sync.Mutex
	count := 0
	db.Subscribe("root/counter", func(Change) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, db.SetValue("root/counter", i))
			_ = db.ListAccessible("root")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
