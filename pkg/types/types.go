package types

import (
	"bytes"
	"encoding/binary"
)

// Compare é a função de ordenação de chaves fornecida pela aplicação.
// Retorna -1 se a < b, 0 se a == b, 1 se a > b.
type Compare func(a, b []byte) int

// Merge combina um delta de update com o valor existente de uma chave,
// produzindo o novo valor. `existing == nil` indica que a chave não
// existia no momento do merge.
//
// A mesma função é usada pelo store (ao aplicar merge-updates) e pela
// camada transacional (ao colapsar dois updates da mesma chave dentro
// de um write set).
type Merge func(key, existing, delta []byte) []byte

// DefaultCompare ordena chaves como bytes (ordem lexicográfica).
func DefaultCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// DefaultMerge descarta o valor existente: o delta substitui o valor
// inteiro. Aplicações com tuplas parciais devem fornecer a sua própria.
func DefaultMerge(key, existing, delta []byte) []byte {
	_ = existing
	return delta
}

// === Codificação de chaves tipadas ===
//
// Chaves são bytes opacos para o engine; estas funções produzem
// codificações cuja ordem de bytes preserva a ordem natural do tipo,
// para uso com DefaultCompare.

// IntKey codifica um inteiro com sinal preservando ordem
// (big-endian com bit de sinal invertido).
func IntKey(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

// StringKey codifica uma string como bytes (já ordena naturalmente).
func StringKey(v string) []byte {
	return []byte(v)
}
