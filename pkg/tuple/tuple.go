package tuple

import (
	"encoding/binary"
)

// Toda tupla persistida no store carrega um header fixo antes do
// payload da aplicação:
//
//	[ts:8 bytes little-endian][payload:N]
//
// O timestamp é o commit timestamp da transação que escreveu a tupla.
// ts == 0 é o sentinela "nunca escrito / ausente".
const HeaderSize = 8

// Encode monta uma tupla completa (header + payload).
func Encode(ts uint64, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:HeaderSize], ts)
	copy(buf[HeaderSize:], payload)
	return buf
}

// TS extrai o timestamp do header de uma tupla codificada.
func TS(stored []byte) uint64 {
	if len(stored) < HeaderSize {
		return 0
	}
	return binary.LittleEndian.Uint64(stored[0:HeaderSize])
}

// Payload retorna a visão do payload da aplicação (sem o header).
// O slice retornado compartilha memória com `stored`.
func Payload(stored []byte) []byte {
	if len(stored) < HeaderSize {
		return nil
	}
	return stored[HeaderSize:]
}

// Stamp regrava o timestamp de uma tupla já codificada, in place.
// Usado na write phase: o pending timestamp vira o commit timestamp.
func Stamp(stored []byte, ts uint64) {
	binary.LittleEndian.PutUint64(stored[0:HeaderSize], ts)
}

// Getter é o recorte mínimo do store necessário para extração de
// timestamp: um point lookup atômico.
type Getter interface {
	Lookup(key []byte) (value []byte, found bool, err error)
}

// ReadTS faz um point lookup e devolve apenas o timestamp corrente da
// chave. Chave ausente lê como ts 0. Este é o único caminho pelo qual
// a validação observa os timestamps do store.
func ReadTS(g Getter, key []byte) (uint64, error) {
	value, found, err := g.Lookup(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return TS(value), nil
}
