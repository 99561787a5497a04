package sim

import (
	"fmt"
)

// LatencyDist é uma distribuição uniforme [Min, Max) de latência virtual
// (com Max <= Min o valor é sempre Min)
type LatencyDist struct {
	Min uint64
	Max uint64
}

func (d LatencyDist) sample(s *Scheduler) uint64 {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + uint64(s.Rand().Int63n(int64(d.Max-d.Min)))
}

// DiskOptions configura o disco virtual de um nó
type DiskOptions struct {
	ReadLatency  LatencyDist
	WriteLatency LatencyDist

	// CorruptProb: probabilidade de uma escrita corromper um byte
	CorruptProb float64
	// ErrorProb: probabilidade de uma operação falhar com erro de I/O
	ErrorProb float64
}

// Disk é o disco virtual por nó: conteúdo em memória, latências e
// falhas injetadas pelo scheduler. Toda operação é assíncrona — o
// desfecho chega como tarefa no tempo virtual.
type Disk struct {
	sched *Scheduler
	opts  DiskOptions
	files map[string][]byte
}

func NewDisk(sched *Scheduler, opts DiskOptions) *Disk {
	return &Disk{
		sched: sched,
		opts:  opts,
		files: make(map[string][]byte),
	}
}

// Write agenda uma escrita; cb recebe o desfecho no tempo virtual
func (d *Disk) Write(name string, data []byte, cb func(err error)) {
	delay := d.opts.WriteLatency.sample(d.sched)
	payload := append([]byte(nil), data...)

	d.sched.Schedule(delay, TaskDiskWrite, func() {
		if d.roll(d.opts.ErrorProb) {
			cb(fmt.Errorf("disk: i/o error writing %q", name))
			return
		}
		if len(payload) > 0 && d.roll(d.opts.CorruptProb) {
			// Corrupção silenciosa: um byte vira lixo
			idx := d.sched.Rand().Intn(len(payload))
			payload[idx] ^= 0xFF
		}
		d.files[name] = payload
		cb(nil)
	})
}

// Append agenda a concatenação ao fim do arquivo
func (d *Disk) Append(name string, data []byte, cb func(err error)) {
	delay := d.opts.WriteLatency.sample(d.sched)
	payload := append([]byte(nil), data...)

	d.sched.Schedule(delay, TaskDiskWrite, func() {
		if d.roll(d.opts.ErrorProb) {
			cb(fmt.Errorf("disk: i/o error appending %q", name))
			return
		}
		if len(payload) > 0 && d.roll(d.opts.CorruptProb) {
			idx := d.sched.Rand().Intn(len(payload))
			payload[idx] ^= 0xFF
		}
		d.files[name] = append(d.files[name], payload...)
		cb(nil)
	})
}

// Read agenda uma leitura; cb recebe (dados, erro)
func (d *Disk) Read(name string, cb func(data []byte, err error)) {
	delay := d.opts.ReadLatency.sample(d.sched)

	d.sched.Schedule(delay, TaskDiskRead, func() {
		if d.roll(d.opts.ErrorProb) {
			cb(nil, fmt.Errorf("disk: i/o error reading %q", name))
			return
		}
		data, ok := d.files[name]
		if !ok {
			cb(nil, fmt.Errorf("disk: file %q not found", name))
			return
		}
		cb(append([]byte(nil), data...), nil)
	})
}

// Crash não descarta nada: no modelo simples, tudo que o callback
// confirmou está durável. Existe para simular a perda do processo, não
// do disco.
func (d *Disk) Crash() {
	// Conteúdo confirmado permanece
}

func (d *Disk) roll(prob float64) bool {
	if prob <= 0 {
		return false
	}
	return d.sched.Rand().Float64() < prob
}
