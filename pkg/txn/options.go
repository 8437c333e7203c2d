package txn

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/bobboyms/transactional-kv/pkg/store"
)

// IsolationLevel do engine transacional.
type IsolationLevel int

const (
	// Serializable é o único nível com semântica completa: validação
	// TicToc do read set no commit.
	Serializable IsolationLevel = iota + 1

	isolationMaxValid
)

func (l IsolationLevel) valid() bool {
	return l > 0 && l < isolationMaxValid
}

// Config configura o engine transacional e o store subjacente.
type Config struct {
	// Store é a configuração do engine subjacente. O Merge definido
	// aqui é o merge da APLICAÇÃO (sobre payloads); a camada
	// transacional instala no store uma versão ciente do header.
	Store store.Config

	// Isolation é o nível inicial. Zero = Serializable.
	Isolation IsolationLevel

	// LockBackoff é a pausa entre tentativas de travar o write set.
	// Zero usa o default de 1µs.
	LockBackoff time.Duration

	// TSBump liga a finalização estrita do commit timestamp
	// (max + 1, como no paper do TicToc) em vez de max. Com max puro,
	// dois commits conflitantes podem compartilhar timestamp e escapar
	// da validação. DefaultConfig liga.
	TSBump bool

	// ValidateAbsence registra leituras não encontradas no read set
	// (com ts 0) e as valida no commit. Desligado, um insert fantasma
	// entre a leitura e o commit não é detectado.
	ValidateAbsence bool

	// Logger opcional; nil usa o logger global do pacote log.
	Logger *zerolog.Logger
}

// DefaultConfig retorna a configuração padrão sobre um diretório pebble.
func DefaultConfig(dir string) Config {
	return Config{
		Store:       store.DefaultConfig(dir),
		Isolation:   Serializable,
		LockBackoff: time.Microsecond,
		TSBump:      true,
	}
}
