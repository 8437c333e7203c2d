package txn

import (
	"sort"
	"sync"

	kverrors "github.com/bobboyms/transactional-kv/pkg/errors"
	"github.com/bobboyms/transactional-kv/pkg/tuple"
	"github.com/bobboyms/transactional-kv/pkg/types"
)

// Op is the kind of a buffered write. Insert and Delete are definitive
// (they fully replace prior state); Update is a merge delta combined with
// any previously buffered value.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

func (op Op) definitive() bool {
	return op == OpInsert || op == OpDelete
}

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "invalid"
	}
}

// State is the transaction lifecycle:
// Active → Committing → {Committed, Aborted}, or Active → Aborted on
// explicit abort.
type State uint8

const (
	StateActive State = iota + 1
	StateCommitting
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// readEntry é um registro do read set: a tupla observada no momento da
// leitura. Chaves duplicadas são mantidas (todas validam igual).
type readEntry struct {
	key     []byte
	payload []byte
	ts      uint64
}

// writeEntry é um registro do write set, único por chave. A tupla
// carrega um timestamp placeholder até a write phase.
type writeEntry struct {
	key   []byte
	op    Op
	tuple []byte // [ts || payload] codificado
}

// Txn is a single-goroutine transaction context: buffered reads and
// writes plus the commit timestamp computed during validation. A Txn
// must not be shared across goroutines (same contract as database/sql).
type Txn struct {
	id        uint64
	isolation IsolationLevel
	reads     []readEntry
	writes    []writeEntry
	commitTS  uint64

	mu    sync.Mutex
	state State
}

// ID identifica a transação; também é a identidade usada na lock table.
func (tx *Txn) ID() uint64 {
	return tx.id
}

// Isolation é o nível com que a transação foi aberta.
func (tx *Txn) Isolation() IsolationLevel {
	return tx.isolation
}

// State returns the current lifecycle state.
func (tx *Txn) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// CommitTS returns the serialization timestamp computed during commit
// validation. Zero before Commit is called; a transaction aborted by
// validation may keep a partially folded value.
func (tx *Txn) CommitTS() uint64 {
	return tx.commitTS
}

// checkActive garante que a transação ainda aceita operações.
func (tx *Txn) checkActive() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != StateActive {
		return &kverrors.TxnFinishedError{TxnID: tx.id, State: tx.state.String()}
	}
	return nil
}

func (tx *Txn) setState(s State) {
	tx.mu.Lock()
	tx.state = s
	tx.mu.Unlock()
}

// recordRead appends a read-set entry captured at the moment of the read.
func (tx *Txn) recordRead(key, payload []byte, ts uint64) {
	tx.reads = append(tx.reads, readEntry{
		key:     append([]byte(nil), key...),
		payload: append([]byte(nil), payload...),
		ts:      ts,
	})
}

// localWrite merges an operation into the write set. Linear search by
// key: write sets are small and only sorted once, at commit.
func (tx *Txn) localWrite(cmp types.Compare, merge types.Merge, key []byte, op Op, payload []byte) {
	for i := range tx.writes {
		w := &tx.writes[i]
		if cmp(w.key, key) != 0 {
			continue
		}

		if op.definitive() {
			// Insert/Delete substituem o estado bufferizado inteiro.
			if op == OpDelete {
				w.tuple = tuple.Encode(0, nil)
			} else {
				w.tuple = tuple.Encode(0, payload)
			}
			w.op = op
			return
		}

		// Update após delete na mesma transação é erro de programação.
		if w.op == OpDelete {
			panic(&kverrors.UpdateAfterDeleteError{Key: string(key)})
		}

		// Colapsa o delta no valor bufferizado com o merge da aplicação.
		// O op existente é preservado (um insert atualizado continua
		// sendo um insert definitivo).
		merged := merge(key, tuple.Payload(w.tuple), payload)
		w.tuple = tuple.Encode(tuple.TS(w.tuple), merged)
		return
	}

	var t []byte
	if op == OpDelete {
		t = tuple.Encode(0, nil)
	} else {
		t = tuple.Encode(0, payload)
	}
	tx.writes = append(tx.writes, writeEntry{
		key:   append([]byte(nil), key...),
		op:    op,
		tuple: t,
	})
}

// inWriteSet reporta se a chave tem escrita pendente nesta transação.
func (tx *Txn) inWriteSet(cmp types.Compare, key []byte) bool {
	for i := range tx.writes {
		if cmp(tx.writes[i].key, key) == 0 {
			return true
		}
	}
	return false
}

// sortWriteSet ordena o write set pelo comparador da aplicação. Todos
// os committers travam na mesma ordem total, o que impede deadlock.
func (tx *Txn) sortWriteSet(cmp types.Compare) {
	sort.Slice(tx.writes, func(i, j int) bool {
		return cmp(tx.writes[i].key, tx.writes[j].key) < 0
	})
}

// reset descarta os dois sets para reuso após commit ou abort.
func (tx *Txn) reset() {
	tx.reads = nil
	tx.writes = nil
}
