package entity

import (
	"fmt"

	"entitycore/pkg/backend"
	"entitycore/pkg/relational"
)

// Outcome is the terminal state of one save attempt.
type Outcome string

const (
	// OutcomeSaved means the transaction committed and the snapshot was
	// accepted.
	OutcomeSaved Outcome = "saved"
	// OutcomeRejected means the verify gate or a before-save hook stopped
	// the save before any transaction was opened.
	OutcomeRejected Outcome = "rejected"
	// OutcomeAborted means a pass failed and the transaction was rolled
	// back; the ledger and dirty state are untouched for inspection or
	// retry.
	OutcomeAborted Outcome = "aborted"
)

// Save runs the full protocol for one entity: verify gate, transaction,
// delete pass, master save with key remapping, insert/update pass, then
// commit and accept. A failure in any pass aborts the transaction and leaves
// the in-memory dirty state exactly as it was, so the caller can inspect the
// ledger or retry.
func (e *Entity) Save() (Outcome, error) {
	if e.removed {
		return OutcomeRejected, StateError{Entity: e.def.Name, Op: "save", Reason: "entity is removed"}
	}
	if e.def.BeforeSave != nil && e.def.BeforeSave(e) == Cancel {
		return OutcomeRejected, ErrVetoed
	}
	ok, err := e.verifyGate()
	if err != nil {
		return OutcomeRejected, err
	}
	if !ok {
		return OutcomeRejected, nil
	}

	borrowed := e.ctx.InTransaction()
	if !borrowed {
		if err := e.ctx.BeginTransaction(); err != nil {
			return OutcomeAborted, err
		}
	}
	if err := e.savePasses(); err != nil {
		if !borrowed {
			if abortErr := e.ctx.AbortTransaction(); abortErr != nil {
				return OutcomeAborted, fmt.Errorf("%w (abort also failed: %v)", err, abortErr)
			}
		}
		return OutcomeAborted, err
	}
	if borrowed {
		// The transaction owner commits and triggers accept; a borrower
		// must leave both to the owner.
		return OutcomeSaved, nil
	}
	if err := e.ctx.CommitTransaction(); err != nil {
		_ = e.ctx.AbortTransaction()
		return OutcomeAborted, err
	}
	e.acceptAll()
	return OutcomeSaved, nil
}

// verifyGate rebuilds the ledger and applies the entity's save policy.
func (e *Entity) verifyGate() (bool, error) {
	if e.def.BeforeVerify != nil && e.def.BeforeVerify(e) == Cancel {
		return false, ErrVetoed
	}
	ledger, err := e.engine.Apply(e.snap, "")
	if err != nil {
		return false, err
	}
	if ledger.HasViolations() && !e.def.AllowSaveWithViolations {
		return false, nil
	}
	if ledger.HasWarnings() && !e.def.AllowSaveWithWarnings && !e.def.AllowSaveWithViolations {
		return false, nil
	}
	return true, nil
}

// savePasses executes the three ordered passes inside the open transaction.
func (e *Entity) savePasses() error {
	// Pass A: deletes only, author-ordered. Deletes precede everything else
	// to avoid foreign-key and key-reuse conflicts.
	for _, name := range e.def.deleteOrder() {
		if err := e.saveSecondary(name, passDeletes); err != nil {
			return err
		}
	}
	if err := e.saveMaster(); err != nil {
		return err
	}
	// Pass B: inserts and updates, author-ordered (parents before
	// children).
	for _, name := range e.def.saveOrder() {
		if err := e.saveSecondary(name, passUpserts); err != nil {
			return err
		}
	}
	return e.saveCrossLinks()
}

type savePass int

const (
	passDeletes savePass = iota
	passUpserts
)

func (e *Entity) saveMaster() error {
	master := e.masterTable()
	row, err := e.masterRow()
	if err != nil {
		return err
	}
	state, err := master.State(row)
	if err != nil {
		return err
	}
	switch state {
	case relational.StateAdded:
		return e.insertMaster(master, row)
	case relational.StateModified:
		cmd, err := backend.BuildUpdate(master, row, e.def.updateMode(), e.def.updateMethod())
		if err != nil {
			return err
		}
		_, err = e.ctx.ExecuteNonQuery(cmd)
		return err
	default:
		// Unchanged needs nothing; a Deleted master is the deletion path's
		// business, never Save's.
		return nil
	}
}

func (e *Entity) insertMaster(master *relational.Table, row int) error {
	cmd, err := backend.BuildInsert(master, row)
	if err != nil {
		return err
	}
	if cmd.ScalarReturn == "" {
		_, err := e.ctx.ExecuteNonQuery(cmd)
		return err
	}
	// Auto-increment insert: the command returns the server-assigned key.
	oldKey, err := master.Key(row)
	if err != nil {
		return err
	}
	result, err := e.ctx.ExecuteScalar(cmd)
	if err != nil {
		return err
	}
	newKey, err := scalarToKey(result)
	if err != nil {
		return err
	}
	if newKey == backend.InsertFailedSentinel {
		return InsertFailedError{Table: master.Name()}
	}
	if err := master.RemapKey(oldKey, newKey); err != nil {
		return err
	}
	// Dependent-table propagation is the entity's declared hook, never
	// discovered from schema. Without it, child rows keep referencing the
	// placeholder and their save pass writes orphans.
	if e.def.PropagateKey != nil {
		return e.def.PropagateKey(e.snap, oldKey, newKey)
	}
	return nil
}

func scalarToKey(v any) (int64, error) {
	switch k := v.(type) {
	case int64:
		return k, nil
	case int:
		return int64(k), nil
	case float64:
		return int64(k), nil
	default:
		return 0, fmt.Errorf("entity: scalar insert returned %T, want integer key", v)
	}
}

func (e *Entity) saveSecondary(name string, pass savePass) error {
	sec, ok := e.def.secondary(name)
	if !ok {
		return FieldError{Entity: e.def.Name, Field: name}
	}
	tbl, _ := e.snap.Table(sec.Name)
	for i := 0; i < tbl.RowCount(); i++ {
		state, err := tbl.State(i)
		if err != nil {
			return err
		}
		switch pass {
		case passDeletes:
			if state != relational.StateDeleted {
				continue
			}
			key, err := tbl.Key(i)
			if err != nil {
				return err
			}
			if _, err := e.ctx.ExecuteNonQuery(backend.BuildDeleteByKey(backend.SchemaOf(tbl), key)); err != nil {
				return err
			}
		case passUpserts:
			switch state {
			case relational.StateAdded:
				cmd, err := backend.BuildInsert(tbl, i)
				if err != nil {
					return err
				}
				if cmd.ScalarReturn != "" {
					oldKey, err := tbl.Key(i)
					if err != nil {
						return err
					}
					result, err := e.ctx.ExecuteScalar(cmd)
					if err != nil {
						return err
					}
					newKey, err := scalarToKey(result)
					if err != nil {
						return err
					}
					if newKey == backend.InsertFailedSentinel {
						return InsertFailedError{Table: tbl.Name()}
					}
					if err := tbl.RemapKey(oldKey, newKey); err != nil {
						return err
					}
				} else if _, err := e.ctx.ExecuteNonQuery(cmd); err != nil {
					return err
				}
			case relational.StateModified:
				cmd, err := backend.BuildUpdate(tbl, i, e.def.updateMode(), e.def.updateMethod())
				if err != nil {
					return err
				}
				if _, err := e.ctx.ExecuteNonQuery(cmd); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Entity) saveCrossLinks() error {
	for _, cl := range e.def.CrossLinks {
		tbl, _ := e.snap.Table(cl.LinkTable)
		for i := 0; i < tbl.RowCount(); i++ {
			state, err := tbl.State(i)
			if err != nil {
				return err
			}
			switch state {
			case relational.StateDeleted:
				key, err := tbl.Key(i)
				if err != nil {
					return err
				}
				if _, err := e.ctx.ExecuteNonQuery(backend.BuildDeleteByKey(backend.SchemaOf(tbl), key)); err != nil {
					return err
				}
			case relational.StateAdded:
				cmd, err := backend.BuildInsert(tbl, i)
				if err != nil {
					return err
				}
				if _, err := e.ctx.ExecuteNonQuery(cmd); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// acceptAll settles the snapshot after a successful commit. Upsert accepts
// run before the delete-pass accepts; both are deferred to this point so an
// aborted save leaves every dirty and Deleted row intact for retry.
func (e *Entity) acceptAll() {
	e.snap.AcceptAll()
}

// AtomicSave persists several entities in one shared transaction,
// all-or-nothing. Every entity is verified first, with no short-circuiting,
// so the caller sees the complete violation picture; the batch proceeds only
// if all pass. All participants must share one data context, checked by
// exact identity match, before any write is attempted. Unlike Save, the
// batch never borrows: it must own the transaction it commits, so a context
// with a transaction already open is refused with an OwnershipError. The
// first failing save aborts the whole batch.
func AtomicSave(entities ...*Entity) (Outcome, error) {
	if len(entities) == 0 {
		return OutcomeSaved, nil
	}
	for _, e := range entities {
		if e.removed {
			return OutcomeRejected, StateError{Entity: e.def.Name, Op: "atomic_save", Reason: "entity is removed"}
		}
	}
	allPass := true
	for _, e := range entities {
		ok, err := e.verifyGate()
		if err != nil {
			return OutcomeRejected, err
		}
		if !ok {
			allPass = false
		}
	}
	if !allPass {
		return OutcomeRejected, nil
	}
	shared := entities[0].ctx
	for _, e := range entities[1:] {
		if e.ctx.Identity() != shared.Identity() {
			return OutcomeRejected, SharingError{Want: shared.Identity(), Got: e.ctx.Identity()}
		}
	}
	if shared.InTransaction() {
		return OutcomeRejected, backend.OwnershipError{Identity: shared.Identity()}
	}
	if err := shared.BeginTransaction(); err != nil {
		return OutcomeAborted, err
	}
	for _, e := range entities {
		if err := e.savePasses(); err != nil {
			if abortErr := shared.AbortTransaction(); abortErr != nil {
				return OutcomeAborted, fmt.Errorf("%w (abort also failed: %v)", err, abortErr)
			}
			return OutcomeAborted, err
		}
	}
	if err := shared.CommitTransaction(); err != nil {
		_ = shared.AbortTransaction()
		return OutcomeAborted, err
	}
	for _, e := range entities {
		e.acceptAll()
	}
	return OutcomeSaved, nil
}
