package txn

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	kverrors "github.com/bobboyms/transactional-kv/pkg/errors"
	"github.com/bobboyms/transactional-kv/pkg/locktable"
	"github.com/bobboyms/transactional-kv/pkg/log"
	"github.com/bobboyms/transactional-kv/pkg/metrics"
	"github.com/bobboyms/transactional-kv/pkg/store"
	"github.com/bobboyms/transactional-kv/pkg/tuple"
	"github.com/bobboyms/transactional-kv/pkg/types"
)

func GenerateKey() string {
	// NewV7 gera um UUID baseado no tempo atual + aleatoriedade segura
	id, err := uuid.NewV7()
	if err != nil {
		panic(err) // Em caso improvável de erro no gerador de entropia
	}
	return id.String()
}

// DB is a serializable transactional layer over an ordered key-value
// store, implementing the TicToc optimistic concurrency-control
// protocol. Every stored value carries an 8-byte commit-timestamp
// header; reads are validated against those timestamps at commit time,
// so no read locks are ever taken.
type DB struct {
	store    store.Store
	locks    *locktable.Table
	registry *Registry

	cmp      types.Compare
	appMerge types.Merge

	isolation   atomic.Int32
	lockBackoff time.Duration
	tsBump      bool
	validateAbs bool

	nextTxnID atomic.Uint64
	logger    zerolog.Logger
}

// Open cria ou abre o store subjacente e monta a camada transacional
// por cima dele.
func Open(cfg Config) (*DB, error) {
	if cfg.Isolation == 0 {
		cfg.Isolation = Serializable
	}
	if !cfg.Isolation.valid() {
		return nil, &kverrors.InvalidIsolationLevelError{Level: int(cfg.Isolation)}
	}
	if cfg.LockBackoff <= 0 {
		cfg.LockBackoff = time.Microsecond
	}

	cmp := cfg.Store.Compare
	if cmp == nil {
		cmp = types.DefaultCompare
	}
	appMerge := cfg.Store.Merge
	if appMerge == nil {
		appMerge = types.DefaultMerge
	}

	// O store recebe um merge ciente do header de timestamp; a
	// aplicação só enxerga payloads.
	storeCfg := cfg.Store
	storeCfg.Merge = wrapMerge(appMerge)

	s, err := store.Open(storeCfg)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("txn")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	db := &DB{
		store:       s,
		locks:       locktable.New(),
		registry:    NewRegistry(),
		cmp:         cmp,
		appMerge:    appMerge,
		lockBackoff: cfg.LockBackoff,
		tsBump:      cfg.TSBump,
		validateAbs: cfg.ValidateAbsence,
		logger:      logger,
	}
	db.isolation.Store(int32(cfg.Isolation))

	db.logger.Info().
		Str("dir", cfg.Store.Dir).
		Bool("in_memory", cfg.Store.InMemory).
		Msg("transactional store opened")

	return db, nil
}

// wrapMerge adapta o merge da aplicação para operar sobre tuplas
// completas [ts || payload]: combina os payloads e preserva o timestamp
// do operando mais novo.
func wrapMerge(app types.Merge) types.Merge {
	return func(key, existing, delta []byte) []byte {
		if len(existing) < tuple.HeaderSize {
			return delta
		}
		merged := app(key, tuple.Payload(existing), tuple.Payload(delta))
		return tuple.Encode(tuple.TS(delta), merged)
	}
}

// Close fecha o store. Transações ainda ativas são abandonadas (seus
// buffers são locais ao processo; nada chegou ao store).
func (db *DB) Close() error {
	if n := db.registry.ActiveCount(); n > 0 {
		db.logger.Warn().Int("active", n).Msg("closing with active transactions")
	}
	return db.store.Close()
}

// RegisterThread registra a thread corrente no store subjacente.
func (db *DB) RegisterThread() {
	db.store.RegisterThread()
}

// DeregisterThread remove o registro da thread corrente.
func (db *DB) DeregisterThread() {
	db.store.DeregisterThread()
}

// SetIsolationLevel troca o nível para transações futuras.
func (db *DB) SetIsolationLevel(level IsolationLevel) error {
	if !level.valid() {
		return &kverrors.InvalidIsolationLevelError{Level: int(level)}
	}
	db.isolation.Store(int32(level))
	return nil
}

// Begin abre uma transação no nível configurado.
func (db *DB) Begin() *Txn {
	tx := &Txn{
		id:        db.nextTxnID.Add(1),
		isolation: IsolationLevel(db.isolation.Load()),
		state:     StateActive,
	}
	db.registry.Register(tx)
	metrics.ActiveTransactions.Inc()
	return tx
}

// Lookup lê a última versão commitada da chave e registra a leitura no
// read set. O header de timestamp é removido: o chamador recebe apenas
// o payload. Chave ausente retorna found=false e não é erro.
func (db *DB) Lookup(tx *Txn, key []byte) (value []byte, found bool, err error) {
	if err := tx.checkActive(); err != nil {
		return nil, false, err
	}

	stored, found, err := db.store.Lookup(key)
	if err != nil {
		// A transação continua ativa; o chamador decide entre
		// repetir a leitura e abortar.
		return nil, false, err
	}
	if !found {
		if db.validateAbs {
			tx.recordRead(key, nil, 0)
		}
		return nil, false, nil
	}

	payload := append([]byte(nil), tuple.Payload(stored)...)
	tx.recordRead(key, payload, tuple.TS(stored))
	return payload, true, nil
}

// Insert bufferiza um put definitivo. Nunca toca o store.
func (db *DB) Insert(tx *Txn, key, value []byte) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.localWrite(db.cmp, db.appMerge, key, OpInsert, value)
	return nil
}

// Update bufferiza um delta de merge. Dois updates na mesma chave são
// colapsados com o merge da aplicação; update após delete é panic.
func (db *DB) Update(tx *Txn, key, delta []byte) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.localWrite(db.cmp, db.appMerge, key, OpUpdate, delta)
	return nil
}

// Delete bufferiza a remoção da chave.
func (db *DB) Delete(tx *Txn, key []byte) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.localWrite(db.cmp, db.appMerge, key, OpDelete, nil)
	return nil
}

// Scan percorre as tuplas commitadas em [start, end) em ordem de chave,
// registrando cada chave visitada no read set (um scan commitado valida
// como leituras pontuais; inserções de chaves novas no intervalo não
// são detectadas). fn recebe o payload sem header; retornar false para
// interromper. Dentro de fn, apenas operações bufferizadas (Insert/
// Update/Delete) são permitidas.
func (db *DB) Scan(tx *Txn, start, end []byte, fn func(key, value []byte) bool) error {
	if err := tx.checkActive(); err != nil {
		return err
	}

	it, err := db.store.Scan(start, end)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Valid() {
		key := append([]byte(nil), it.Key()...)
		stored := it.Value()
		payload := append([]byte(nil), tuple.Payload(stored)...)
		tx.recordRead(key, payload, tuple.TS(stored))
		if !fn(key, payload) {
			break
		}
		it.Next()
	}
	return nil
}

// Commit executa o protocolo de três fases do TicToc: trava o write
// set, valida o read set e aplica as escritas carimbadas com o commit
// timestamp. Retorna nil no commit; *errors.TxnAbortedError quando a
// validação falha; *errors.StoreFatalError se o store falhar na write
// phase (irrecuperável, escritas parciais).
func (db *DB) Commit(tx *Txn) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.setState(StateCommitting)

	timer := prometheus.NewTimer(metrics.CommitDuration)
	defer timer.ObserveDuration()

	// Step 1 — trava o write set em ordem de chave. Ordem total comum
	// a todos os committers impede deadlock; o back-off limita
	// live-lock.
	tx.sortWriteSet(db.cmp)
	for !db.lockWriteSet(tx) {
		metrics.LockRetriesTotal.Inc()
		time.Sleep(db.lockBackoff)
	}

	// Step 2 — valida o read set e finaliza o commit timestamp.
	reason, err := db.validate(tx)
	if err != nil {
		db.finish(tx, StateAborted, metrics.CauseValidation)
		return &kverrors.TxnAbortedError{TxnID: tx.id, Reason: fmt.Sprintf("validation read failed: %v", err)}
	}
	if reason != "" {
		db.finish(tx, StateAborted, metrics.CauseValidation)
		db.logger.Debug().Uint64("txn", tx.id).Str("reason", reason).Msg("transaction aborted")
		return &kverrors.TxnAbortedError{TxnID: tx.id, Reason: reason}
	}

	// Step 3 — write phase. A partir daqui não há volta: os locks ainda
	// estão em mãos e cada tupla sai carimbada com o commit timestamp.
	if err := db.writePhase(tx); err != nil {
		db.finish(tx, StateAborted, metrics.CauseStoreFatal)
		return err
	}

	// Step 4 — cleanup.
	db.finish(tx, StateCommitted, "")
	db.logger.Debug().Uint64("txn", tx.id).Uint64("commit_ts", tx.commitTS).Msg("transaction committed")
	return nil
}

// lockWriteSet tenta travar todas as chaves do write set (já ordenado).
// Em caso de busy, solta o que já pegou em ordem reversa e retorna
// false para o chamador tentar de novo.
func (db *DB) lockWriteSet(tx *Txn) bool {
	for i := range tx.writes {
		if db.locks.TryAcquire(tx.writes[i].key, tx.id) {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			db.locks.Release(tx.writes[j].key, tx.id)
		}
		return false
	}
	return true
}

const (
	abortReasonStale  = "read-set entry overwritten by a concurrent commit"
	abortReasonLocked = "read-set entry locked by a concurrent committer"
)

// validate re-lê os timestamps correntes do store e decide
// commit/abort. No sucesso, commitTS fica finalizado. Retorna o motivo
// do abort ("" para commit) ou erro de leitura do store.
func (db *DB) validate(tx *Txn) (string, error) {
	for i := range tx.reads {
		r := &tx.reads[i]

		curTS, err := tuple.ReadTS(db.store, r.key)
		if err != nil {
			return "", err
		}

		writtenByOther := curTS != r.ts
		lockedByOther := db.locks.IsLocked(r.key) && !tx.inWriteSet(db.cmp, r.key)

		if writtenByOther {
			return abortReasonStale, nil
		}
		if lockedByOther {
			return abortReasonLocked, nil
		}

		if curTS > tx.commitTS {
			tx.commitTS = curTS
		}
	}

	for i := range tx.writes {
		curTS, err := tuple.ReadTS(db.store, tx.writes[i].key)
		if err != nil {
			return "", err
		}
		if curTS > tx.commitTS {
			tx.commitTS = curTS
		}
	}

	if db.tsBump {
		tx.commitTS++
	}
	return "", nil
}

// writePhase carimba e aplica cada entrada do write set. Erro do store
// aqui é fatal: a transação já validou e pode ter escritas parciais.
func (db *DB) writePhase(tx *Txn) error {
	for i := range tx.writes {
		w := &tx.writes[i]
		tuple.Stamp(w.tuple, tx.commitTS)

		var err error
		switch w.op {
		case OpInsert:
			err = db.store.Insert(w.key, w.tuple)
		case OpUpdate:
			err = db.store.Update(w.key, w.tuple)
		case OpDelete:
			err = db.store.Delete(w.key)
		}
		if err != nil {
			return &kverrors.StoreFatalError{Op: w.op.String(), Key: string(w.key), Err: err}
		}
	}
	return nil
}

// Abort descarta a transação sem tocar o store. Abortar uma transação
// já terminada é um no-op.
func (db *DB) Abort(tx *Txn) error {
	if err := tx.checkActive(); err != nil {
		return nil
	}
	db.finish(tx, StateAborted, metrics.CauseExplicit)
	db.logger.Debug().Uint64("txn", tx.id).Msg("transaction aborted by caller")
	return nil
}

// finish solta quaisquer locks ainda em mãos (em ordem reversa),
// descarta os sets e leva a transação ao estado terminal.
func (db *DB) finish(tx *Txn, state State, abortCause string) {
	for i := len(tx.writes) - 1; i >= 0; i-- {
		db.locks.Release(tx.writes[i].key, tx.id)
	}
	tx.reset()
	tx.setState(state)
	db.registry.Unregister(tx)

	metrics.ActiveTransactions.Dec()
	if state == StateCommitted {
		metrics.CommitsTotal.Inc()
	} else {
		metrics.AbortsTotal.WithLabelValues(abortCause).Inc()
	}
}
