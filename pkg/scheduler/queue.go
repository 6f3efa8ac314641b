package scheduler

import "container/heap"

// taskQueue is a min-heap of tasks ordered by (sortIndex, id). The id
// breaks ties so equal deadlines run in scheduling order.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].sortIndex != q[j].sortIndex {
		return q[i].sortIndex < q[j].sortIndex
	}
	return q[i].id < q[j].id
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

func (q *taskQueue) push(t *Task) {
	heap.Push(q, t)
}

func (q *taskQueue) pop() *Task {
	if len(*q) == 0 {
		return nil
	}
	return heap.Pop(q).(*Task)
}

func (q taskQueue) peek() *Task {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
