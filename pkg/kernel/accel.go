package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bobboyms/olap-engine/pkg/column"
	engerrors "github.com/bobboyms/olap-engine/pkg/errors"
)

// accel.go: caminho de acelerador. O engine só decide o off-load e
// entrega buffers colunares tipados; o runtime do device é plugável
// atrás da interface Device.

// DeviceBuffer é um buffer residente no acelerador
type DeviceBuffer struct {
	ID   string
	Size int64
	// Handle opaco do runtime (no device simulado, os próprios bytes)
	data []byte
}

// Device abstrai o runtime do acelerador
type Device interface {
	// Alloc reserva um buffer no device; OutOfAcceleratorMemory quando
	// não cabe
	Alloc(id string, size int64) (*DeviceBuffer, error)
	// Upload copia host -> device
	Upload(buf *DeviceBuffer, data []byte) error
	// Free devolve a memória do buffer
	Free(buf *DeviceBuffer)
	// Capacity retorna (total, livre) em bytes
	Capacity() (int64, int64)
}

// SimulatedDevice implementa Device em memória do host, com capacidade
// limitada. Serve os testes e o harness de simulação.
type SimulatedDevice struct {
	mu       sync.Mutex
	capacity int64
	used     int64
}

func NewSimulatedDevice(capacity int64) *SimulatedDevice {
	return &SimulatedDevice{capacity: capacity}
}

func (d *SimulatedDevice) Alloc(id string, size int64) (*DeviceBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.used+size > d.capacity {
		return nil, &engerrors.OutOfAcceleratorMemoryError{
			Requested: size,
			Available: d.capacity - d.used,
		}
	}
	d.used += size
	return &DeviceBuffer{ID: id, Size: size}, nil
}

func (d *SimulatedDevice) Upload(buf *DeviceBuffer, data []byte) error {
	buf.data = append(buf.data[:0], data...)
	return nil
}

func (d *SimulatedDevice) Free(buf *DeviceBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used -= buf.Size
	buf.data = nil
}

func (d *SimulatedDevice) Capacity() (int64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacity, d.capacity - d.used
}

// AcceleratorKernel implementa a interface Kernel sobre um Device.
// Buffers de entrada passam pelo cache refcounted (cache.go); a
// computação em si delega para o kernel de CPU — o device simulado não
// tem ALUs próprias, e o contrato dos operadores é idêntico.
type AcceleratorKernel struct {
	device Device
	cache  *BufferCache
	cpu    *CPUKernel
	log    *zap.Logger

	launches atomic.Int64
}

func NewAcceleratorKernel(device Device, cacheSize int, log *zap.Logger) *AcceleratorKernel {
	if log == nil {
		log = zap.NewNop()
	}
	return &AcceleratorKernel{
		device: device,
		cache:  NewBufferCache(device, cacheSize),
		cpu:    NewCPUKernel(),
		log:    log,
	}
}

// Launches conta os kernels disparados (visível para testes)
func (a *AcceleratorKernel) Launches() int64 {
	return a.launches.Load()
}

// stage garante que as colunas do batch estão residentes no device,
// passando pelo cache por identidade lógica do buffer.
func (a *AcceleratorKernel) stage(b *Batch, tag string) ([]*DeviceBuffer, error) {
	bufs := make([]*DeviceBuffer, 0, len(b.Cols))
	for i, col := range b.Cols {
		id := fmt.Sprintf("%s/%d/%s/%d", tag, i, col.Name, col.RowCount)
		buf, err := a.cache.Acquire(id, col)
		if err != nil {
			// Libera o que já foi fixado antes de propagar
			for _, prev := range bufs {
				a.cache.Release(prev)
			}
			return nil, err
		}
		bufs = append(bufs, buf)
	}
	return bufs, nil
}

func (a *AcceleratorKernel) unstage(bufs []*DeviceBuffer) {
	for _, buf := range bufs {
		a.cache.Release(buf)
	}
}

func (a *AcceleratorKernel) Filter(in *Batch, spec FilterSpec) (*Batch, error) {
	bufs, err := a.stage(in, "filter")
	if err != nil {
		return nil, err
	}
	defer a.unstage(bufs)
	a.launches.Add(1)
	return a.cpu.Filter(in, spec)
}

func (a *AcceleratorKernel) HashJoin(left, right *Batch, spec JoinSpec) (*Batch, error) {
	lbufs, err := a.stage(left, "join/l")
	if err != nil {
		return nil, err
	}
	defer a.unstage(lbufs)
	rbufs, err := a.stage(right, "join/r")
	if err != nil {
		return nil, err
	}
	defer a.unstage(rbufs)
	a.launches.Add(1)
	return a.cpu.HashJoin(left, right, spec)
}

func (a *AcceleratorKernel) Aggregate(in *Batch, specs []AggSpec) (*Batch, error) {
	bufs, err := a.stage(in, "agg")
	if err != nil {
		return nil, err
	}
	defer a.unstage(bufs)
	a.launches.Add(1)
	return a.cpu.Aggregate(in, specs)
}

func (a *AcceleratorKernel) Sort(in *Batch, keys []SortKey) (*Batch, error) {
	bufs, err := a.stage(in, "sort")
	if err != nil {
		return nil, err
	}
	defer a.unstage(bufs)
	a.launches.Add(1)
	return a.cpu.Sort(in, keys)
}

func (a *AcceleratorKernel) GroupBy(in *Batch, groupIdx []int, specs []AggSpec) (*Batch, error) {
	bufs, err := a.stage(in, "groupby")
	if err != nil {
		return nil, err
	}
	defer a.unstage(bufs)
	a.launches.Add(1)
	return a.cpu.GroupBy(in, groupIdx, specs)
}

func (a *AcceleratorKernel) Window(in *Batch, spec WindowSpec) (*Batch, error) {
	bufs, err := a.stage(in, "window")
	if err != nil {
		return nil, err
	}
	defer a.unstage(bufs)
	a.launches.Add(1)
	return a.cpu.Window(in, spec)
}

// columnBytes estima o payload da coluna para o device
func columnBytes(c *column.Column) int64 {
	size := int64(len(c.Data)) + int64(len(c.Nulls)) + int64(len(c.Offsets))*4
	if size == 0 {
		size = 1
	}
	return size
}
