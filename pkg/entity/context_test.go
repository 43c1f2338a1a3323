package entity

import (
	"fmt"

	"entitycore/pkg/backend"
	"entitycore/pkg/relational"
)

// fakeContext is a scripted DataContext recording every call so tests can
// assert protocol ordering, and injecting failures or scalar results on
// demand.
type fakeContext struct {
	identity string
	inTx     bool

	calls   []string         // begin, commit, abort, and "<op> <table>"
	cmds    []backend.Command
	scalars map[string]any   // table -> scalar result for inserts/counts
	fail    map[string]error // "<op> <table>" -> injected error
	queries map[string]*relational.Snapshot
}

func newFakeContext(id string) *fakeContext {
	return &fakeContext{
		identity: id,
		scalars:  make(map[string]any),
		fail:     make(map[string]error),
		queries:  make(map[string]*relational.Snapshot),
	}
}

func (f *fakeContext) Identity() string    { return f.identity }
func (f *fakeContext) InTransaction() bool { return f.inTx }

func (f *fakeContext) BeginTransaction() error {
	if f.inTx {
		return backend.TransactionError{Phase: "begin", Err: fmt.Errorf("already open")}
	}
	if err := f.fail["begin"]; err != nil {
		return err
	}
	f.inTx = true
	f.calls = append(f.calls, "begin")
	return nil
}

func (f *fakeContext) CommitTransaction() error {
	if !f.inTx {
		return backend.TransactionError{Phase: "commit", Err: fmt.Errorf("no transaction")}
	}
	if err := f.fail["commit"]; err != nil {
		f.inTx = false
		return err
	}
	f.inTx = false
	f.calls = append(f.calls, "commit")
	return nil
}

func (f *fakeContext) AbortTransaction() error {
	if !f.inTx {
		return backend.TransactionError{Phase: "abort", Err: fmt.Errorf("no transaction")}
	}
	f.inTx = false
	f.calls = append(f.calls, "abort")
	return nil
}

func (f *fakeContext) record(cmd backend.Command) string {
	key := fmt.Sprintf("%s %s", cmd.Op, cmd.Table)
	f.calls = append(f.calls, key)
	f.cmds = append(f.cmds, cmd)
	return key
}

func (f *fakeContext) ExecuteNonQuery(cmd backend.Command) (int64, error) {
	key := f.record(cmd)
	if err := f.fail[key]; err != nil {
		return 0, err
	}
	return 1, nil
}

func (f *fakeContext) ExecuteScalar(cmd backend.Command) (any, error) {
	key := f.record(cmd)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	if v, ok := f.scalars[cmd.Table]; ok {
		return v, nil
	}
	return int64(0), nil
}

func (f *fakeContext) ExecuteQuery(cmd backend.Command, entityName string) (*relational.Snapshot, error) {
	key := f.record(cmd)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	if snap, ok := f.queries[cmd.Table]; ok {
		return snap, nil
	}
	return relational.NewSnapshot(), nil
}
