// Package queue holds the orchestrator's priority-ordered task queue.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// ErrTaskExists is returned when a task is already queued.
var ErrTaskExists = errors.New("task already exists in queue")

// QueuedTask is one queue entry.
type QueuedTask struct {
	TaskID     string
	Priority   int // higher = dispatched first
	TargetRole string
	QueuedAt   time.Time
	Task       *v1.Task
	index      int
}

// taskHeap implements heap.Interface. Higher priority first, FIFO within a
// priority.
type taskHeap []*QueuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].QueuedAt.Before(h[j].QueuedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*QueuedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// TaskQueue is an unbounded priority queue; dispatch rate is bounded by the
// orchestrator's poll period, not by queue capacity.
type TaskQueue struct {
	mu      sync.RWMutex
	heap    taskHeap
	taskMap map[string]*QueuedTask
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{
		heap:    make(taskHeap, 0),
		taskMap: make(map[string]*QueuedTask),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a task. Duplicate ids are rejected.
func (q *TaskQueue) Enqueue(task *v1.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.taskMap[task.ID]; exists {
		return ErrTaskExists
	}
	item := &QueuedTask{
		TaskID:     task.ID,
		Priority:   task.Priority,
		TargetRole: task.TargetRole,
		QueuedAt:   time.Now(),
		Task:       task,
	}
	heap.Push(&q.heap, item)
	q.taskMap[task.ID] = item
	return nil
}

// Peek returns the highest-priority entry without removing it.
func (q *TaskQueue) Peek() *QueuedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0]
}

// Dequeue removes and returns the highest-priority entry, or nil when empty.
func (q *TaskQueue) Dequeue() *QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*QueuedTask)
	delete(q.taskMap, item.TaskID)
	return item
}

// Remove deletes a specific task from the queue.
func (q *TaskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, exists := q.taskMap[taskID]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.taskMap, taskID)
	return true
}

// Contains reports whether a task is queued.
func (q *TaskQueue) Contains(taskID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, exists := q.taskMap[taskID]
	return exists
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}
