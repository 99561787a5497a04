package kernel

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bobboyms/olap-engine/pkg/column"
)

// cacheEntry é um buffer residente com refcount e idade
type cacheEntry struct {
	buf  *DeviceBuffer
	refs int
	age  uint64 // Tick do último uso
}

// BufferCache gerencia buffers de device por identidade lógica.
// Refcount segura buffers em uso; a eviction por idade roda quando uma
// alocação falha por falta de memória no device.
type BufferCache struct {
	mu     sync.Mutex
	device Device
	lru    *lru.Cache[string, *cacheEntry]
	tick   uint64
}

func NewBufferCache(device Device, size int) *BufferCache {
	if size <= 0 {
		size = 128
	}
	// A eviction do LRU devolve a memória do device. Buffers com
	// refs > 0 não são liberados aqui: o Release do dono é quem fecha
	// o ciclo de vida deles.
	c := &BufferCache{device: device}
	cache, _ := lru.NewWithEvict(size, func(id string, e *cacheEntry) {
		if e.refs == 0 {
			device.Free(e.buf)
		}
	})
	c.lru = cache
	return c
}

// Acquire fixa (pin) o buffer da coluna no device, populando no miss
func (bc *BufferCache) Acquire(id string, col *column.Column) (*DeviceBuffer, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.tick++

	if e, ok := bc.lru.Get(id); ok {
		e.refs++
		e.age = bc.tick
		return e.buf, nil
	}

	size := columnBytes(col)
	buf, err := bc.device.Alloc(id, size)
	if err != nil {
		// Passo de eviction por idade: derruba buffers livres (refs=0),
		// do mais antigo ao mais novo, até a alocação caber
		for _, key := range bc.lru.Keys() {
			if e, ok := bc.lru.Peek(key); ok && e.refs == 0 {
				bc.lru.Remove(key)
				if buf, err = bc.device.Alloc(id, size); err == nil {
					break
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if err := bc.device.Upload(buf, col.Data); err != nil {
		bc.device.Free(buf)
		return nil, err
	}

	bc.lru.Add(id, &cacheEntry{buf: buf, refs: 1, age: bc.tick})
	return buf, nil
}

// Release solta o pin do buffer (ele permanece cacheado até eviction)
func (bc *BufferCache) Release(buf *DeviceBuffer) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if e, ok := bc.lru.Peek(buf.ID); ok && e.refs > 0 {
		e.refs--
	}
}

// evictIdleLocked remove do cache (e do device) todo buffer sem refs
func (bc *BufferCache) evictIdleLocked() {
	for _, id := range bc.lru.Keys() {
		if e, ok := bc.lru.Peek(id); ok && e.refs == 0 {
			bc.lru.Remove(id)
		}
	}
}

// Len retorna o número de buffers residentes
func (bc *BufferCache) Len() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.lru.Len()
}
