package main

import (
	"errors"
	"fmt"

	"github.com/yakiro-nvg/avm-sub000/vm"
)

// stride separates the sequence numbers of different producers inside a
// single integer message.
const stride = 1 << 32

// Report summarizes a finished workload.
type Report struct {
	Producers  int
	Messages   int
	Received   int
	Sum        int64
	OutOfOrder int
	Retries    int64
}

// OK reports whether every message arrived in per-producer order.
func (r *Report) OK() bool {
	return r.Received == r.Producers*r.Messages && r.OutOfOrder == 0
}

func (r *Report) String() string {
	return fmt.Sprintf("%d producers x %d messages: received %d, sum %d, out of order %d, retries %d",
		r.Producers, r.Messages, r.Received, r.Sum, r.OutOfOrder, r.Retries)
}

// workload registers the demo actors under module "demo".
type workload struct {
	producers, messages int
	report              Report
	retries             []int64 // one slot per producer; each written by one actor
}

func newWorkload(producers, messages int) *workload {
	return &workload{
		producers: producers,
		messages:  messages,
		report:    Report{Producers: producers, Messages: messages},
		retries:   make([]int64, producers),
	}
}

func (w *workload) register(l *vm.NativeLoader) {
	l.Register("demo", "producer", w.produce)
	l.Register("demo", "consumer", w.consume)
}

// produce sends messages tagged with its producer number to the consumer,
// yielding whenever the outgoing queue pushes back.
// args: consumer pid, producer number
func (w *workload) produce(a *vm.Actor) error {
	to := a.Arg(0).AsPID()
	id := a.Arg(1).AsInt()
	for i := 0; i < w.messages; i++ {
		msg := vm.Int(id*stride + int64(i))
		for {
			err := a.Send(to, msg)
			if err == nil {
				break
			}
			if !errors.Is(err, vm.ErrFull) {
				return err
			}
			w.retries[id]++
			a.Yield()
		}
	}
	return nil
}

// consume receives every message and checks that each producer's
// sequence arrives in order.
func (w *workload) consume(a *vm.Actor) error {
	next := make([]int64, w.producers)
	for n := 0; n < w.producers*w.messages; n++ {
		if err := a.Recv(vm.Forever); err != nil {
			return err
		}
		v, err := a.Pop()
		if err != nil {
			return err
		}
		id, seq := v.AsInt()/stride, v.AsInt()%stride
		if id < 0 || id >= int64(w.producers) {
			return a.Errorf("message from unknown producer %d", id)
		}
		if seq != next[id] {
			w.report.OutOfOrder++
		}
		next[id] = seq + 1
		w.report.Received++
		w.report.Sum += seq
	}
	return nil
}

// spawn starts the consumer and then the producers in round-robin order
// across schedulers.
func (w *workload) spawn(v *vm.VM, stackSize int) error {
	cons, err := v.SpawnNamed("demo", "consumer", nil, stackSize)
	if err != nil {
		return err
	}
	for i := 0; i < w.producers; i++ {
		args := []vm.Value{vm.PIDValue(cons), vm.Int(int64(i))}
		if _, err := v.SpawnNamed("demo", "producer", args, stackSize); err != nil {
			return err
		}
	}
	return nil
}

func (w *workload) finish() *Report {
	for _, n := range w.retries {
		w.report.Retries += n
	}
	return &w.report
}
