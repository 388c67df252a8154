package pooler

import (
	"container/heap"

	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
)

// entry is the pooler's bookkeeping around one transaction.
type entry struct {
	tx    *transaction.Transaction
	seq   uint64
	index int
	unmet int
	done  chan struct{}
	timer bool
}

// readyQueue orders ready entries by priority (desc) then submission order.
type readyQueue []*entry

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].tx.Priority != q[j].tx.Priority {
		return q[i].tx.Priority > q[j].tx.Priority
	}

	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *readyQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]

	return e
}

func (q *readyQueue) push(e *entry) {
	if e.index >= 0 {
		return
	}

	heap.Push(q, e)
}

func (q *readyQueue) pop() *entry {
	if q.Len() == 0 {
		return nil
	}

	return heap.Pop(q).(*entry)
}

func (q *readyQueue) remove(e *entry) {
	if e.index < 0 || e.index >= q.Len() || (*q)[e.index] != e {
		return
	}

	heap.Remove(q, e.index)
}
