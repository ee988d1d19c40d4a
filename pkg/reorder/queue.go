package reorder

import (
	"container/heap"

	"github.com/daviddao/skylog/pkg/clock"
	"github.com/daviddao/skylog/pkg/model"
)

type entry struct {
	rec model.Record
	seq uint64
}

// queue is a min-heap on (TS, seq).
type queue []entry

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	return clock.TotalOrderLess(q[i].rec.TS, q[i].seq, q[j].rec.TS, q[j].seq)
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*q = old[:n-1]
	return e
}

func (q *queue) push(e entry) { heap.Push(q, e) }

// popN removes up to n smallest entries in order.
func (q *queue) popN(n int) []model.Record {
	if n > q.Len() {
		n = q.Len()
	}
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, heap.Pop(q).(entry).rec)
	}
	return out
}
