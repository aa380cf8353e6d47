package m3u8dl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrManagerStopped = errors.New("manager not running")
	ErrDuplicateTask  = errors.New("duplicate task ID")
	ErrTaskNotFound   = errors.New("task not found")
	ErrQueueFull      = errors.New("queue is full")
	ErrTaskCanceled   = errors.New("task canceled")
)

// TaskState represents the current state of a queued download.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskResolving
	TaskDownloading
	TaskAssembling
	TaskCompleted
	TaskFailed
	TaskCanceled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskResolving:
		return "resolving"
	case TaskDownloading:
		return "downloading"
	case TaskAssembling:
		return "assembling"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Active reports whether a run is in progress for the task.
func (s TaskState) Active() bool {
	return s == TaskResolving || s == TaskDownloading || s == TaskAssembling
}

func taskStateOf(s State) TaskState {
	switch s {
	case StateResolving:
		return TaskResolving
	case StateDownloading:
		return TaskDownloading
	case StateAssembling:
		return TaskAssembling
	case StateDone:
		return TaskCompleted
	case StateFailed:
		return TaskFailed
	default:
		return TaskPending
	}
}

// Task is one download in the manager queue.
type Task struct {
	ID       string
	URL      string
	FileName string
	Options  []Option

	CreatedAt time.Time

	mu        sync.RWMutex
	state     TaskState
	err       error
	result    *Result
	progress  TaskProgress
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// TaskProgress holds progress information for a task.
type TaskProgress struct {
	Completed int
	Total     int
	Rate      float64 // segments per second
	ETA       time.Duration
}

// Percent returns the download progress as a percentage.
func (p TaskProgress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// State returns the task state.
func (t *Task) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Err returns the error of a failed or canceled task.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Result returns the run result, nil until the task completes.
func (t *Task) Result() *Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Progress returns a snapshot of the task progress.
func (t *Task) Progress() TaskProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Manager runs queued downloads with bounded concurrency. Each task is an
// independent run with its own worker pool and key cache.
type Manager struct {
	maxConcurrent int
	tasks         sync.Map // map[string]*Task
	taskOrder     []string
	orderMu       sync.RWMutex

	// mu guards the run fields so a send never races the close in Stop.
	mu      sync.Mutex
	queue   chan *Task
	cancel  context.CancelFunc
	running bool
	workers *sync.WaitGroup

	// Callbacks
	onStateChange func(task *Task)
	onProgress    func(task *Task)
	onComplete    func(task *Task)
	onError       func(task *Task, err error)

	// Default options applied to all tasks
	defaultOptions []Option
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithMaxConcurrent sets the maximum number of concurrent downloads.
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		if n > 20 {
			n = 20
		}
		m.maxConcurrent = n
	}
}

// WithDefaultOptions sets default options applied to all tasks.
func WithDefaultOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.defaultOptions = opts
	}
}

// WithOnStateChange sets a callback for task state changes.
func WithOnStateChange(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onStateChange = fn
	}
}

// WithOnProgress sets a callback for progress updates.
func WithOnProgress(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onProgress = fn
	}
}

// WithOnComplete sets a callback for task completion.
func WithOnComplete(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onComplete = fn
	}
}

// WithOnError sets a callback for task errors.
func WithOnError(fn func(task *Task, err error)) ManagerOption {
	return func(m *Manager) {
		m.onError = fn
	}
}

// NewManager creates a new download manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{maxConcurrent: 3}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins processing the download queue. A stopped manager can be
// started again; tasks from the previous run keep their final state.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan *Task, 1000)
	wg := &sync.WaitGroup{}
	m.queue, m.cancel, m.workers, m.running = queue, cancel, wg, true

	for i := 0; i < m.maxConcurrent; i++ {
		wg.Add(1)
		go m.worker(ctx, queue, wg)
	}
}

// Stop cancels active downloads, marks queued ones canceled and waits
// for the workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.queue)
	m.cancel()
	wg := m.workers
	m.mu.Unlock()

	wg.Wait()
}

func (m *Manager) worker(ctx context.Context, queue <-chan *Task, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range queue {
		if ctx.Err() != nil {
			m.finish(task, TaskCanceled, nil, ErrTaskCanceled)
			continue
		}
		m.processTask(ctx, task)
	}
}

// AddTask queues a download of url saved under the title filename.
func (m *Manager) AddTask(id, url, filename string, opts ...Option) (*Task, error) {
	allOpts := make([]Option, 0, len(m.defaultOptions)+len(opts))
	allOpts = append(allOpts, m.defaultOptions...)
	allOpts = append(allOpts, opts...)

	task := &Task{
		ID:        id,
		URL:       url,
		FileName:  filename,
		Options:   allOpts,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrManagerStopped
	}

	if _, loaded := m.tasks.LoadOrStore(id, task); loaded {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, id)
	}

	select {
	case m.queue <- task:
	default:
		m.tasks.Delete(id)
		return nil, ErrQueueFull
	}

	m.orderMu.Lock()
	m.taskOrder = append(m.taskOrder, id)
	m.orderMu.Unlock()

	return task, nil
}

// GetTask returns a task by ID.
func (m *Manager) GetTask(id string) *Task {
	if t, ok := m.tasks.Load(id); ok {
		return t.(*Task)
	}
	return nil
}

// GetAllTasks returns all tasks in the order they were added.
func (m *Manager) GetAllTasks() []*Task {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	tasks := make([]*Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		if t, ok := m.tasks.Load(id); ok {
			tasks = append(tasks, t.(*Task))
		}
	}
	return tasks
}

// CancelTask cancels a pending or running task.
func (m *Manager) CancelTask(id string) error {
	task := m.GetTask(id)
	if task == nil {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}

	task.mu.Lock()
	switch {
	case task.state == TaskCompleted || task.state == TaskFailed || task.state == TaskCanceled:
		task.mu.Unlock()
		return fmt.Errorf("task %q already finished", id)
	case task.cancel != nil:
		// The running task reports itself canceled when Run returns.
		task.cancel()
		task.mu.Unlock()
		return nil
	}
	task.mu.Unlock()

	m.finish(task, TaskCanceled, nil, ErrTaskCanceled)
	return nil
}

// RemoveTask removes a finished task.
func (m *Manager) RemoveTask(id string) error {
	task := m.GetTask(id)
	if task == nil {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	if s := task.State(); s == TaskPending || s.Active() {
		return fmt.Errorf("cannot remove %s task %q", s, id)
	}

	m.tasks.Delete(id)

	m.orderMu.Lock()
	for i, tid := range m.taskOrder {
		if tid == id {
			m.taskOrder = append(m.taskOrder[:i], m.taskOrder[i+1:]...)
			break
		}
	}
	m.orderMu.Unlock()

	return nil
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Degraded  int // completed with missing segments
	Failed    int
	Canceled  int
}

// Stats returns current manager statistics.
func (m *Manager) Stats() ManagerStats {
	var stats ManagerStats
	m.tasks.Range(func(_, value any) bool {
		task := value.(*Task)
		stats.Total++
		switch s := task.State(); {
		case s == TaskPending:
			stats.Pending++
		case s.Active():
			stats.Active++
		case s == TaskCompleted:
			stats.Completed++
			if res := task.Result(); res != nil && res.Degraded() {
				stats.Degraded++
			}
		case s == TaskFailed:
			stats.Failed++
		case s == TaskCanceled:
			stats.Canceled++
		}
		return true
	})
	return stats
}

func (m *Manager) processTask(ctx context.Context, task *Task) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	task.mu.Lock()
	if task.state == TaskCanceled {
		task.mu.Unlock()
		return
	}
	task.cancel = cancel
	task.startedAt = time.Now()
	task.mu.Unlock()

	opts := make([]Option, 0, len(task.Options)+4)
	opts = append(opts, WithURL(task.URL), WithFileName(task.FileName))
	opts = append(opts, task.Options...)
	opts = append(opts,
		WithStateHook(func(s State) { m.setState(task, taskStateOf(s)) }),
		WithProgress(func(completed, total int) { m.setProgress(task, completed, total) }),
	)

	d, err := New(opts...)
	if err != nil {
		m.finish(task, TaskFailed, nil, fmt.Errorf("create downloader: %w", err))
		return
	}

	res, err := d.Run(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		m.finish(task, TaskCanceled, nil, errors.Join(ErrTaskCanceled, err))
	case err != nil:
		m.finish(task, TaskFailed, nil, err)
	default:
		m.finish(task, TaskCompleted, res, nil)
	}
}

// setState records an in-flight transition. Terminal states are set by
// finish once the result is known.
func (m *Manager) setState(task *Task, s TaskState) {
	if !s.Active() {
		return
	}
	task.mu.Lock()
	task.state = s
	task.mu.Unlock()
	m.notifyStateChange(task)
}

func (m *Manager) setProgress(task *Task, completed, total int) {
	task.mu.Lock()
	p := &task.progress
	p.Completed = completed
	p.Total = total
	if elapsed := time.Since(task.startedAt).Seconds(); elapsed > 0 {
		p.Rate = float64(completed) / elapsed
	}
	if p.Rate > 0 {
		p.ETA = time.Duration(float64(total-completed) / p.Rate * float64(time.Second))
	}
	task.mu.Unlock()

	if m.onProgress != nil {
		m.onProgress(task)
	}
}

func (m *Manager) finish(task *Task, s TaskState, res *Result, err error) {
	task.mu.Lock()
	if task.state == TaskCompleted || task.state == TaskFailed || task.state == TaskCanceled {
		task.mu.Unlock()
		return
	}
	task.state = s
	task.result = res
	task.err = err
	task.cancel = nil
	task.mu.Unlock()

	// Waiters wake after every callback has run.
	defer close(task.done)
	m.notifyStateChange(task)

	switch s {
	case TaskCompleted:
		if m.onComplete != nil {
			m.onComplete(task)
		}
	case TaskFailed:
		if m.onError != nil {
			m.onError(task, err)
		}
	}
}

func (m *Manager) notifyStateChange(task *Task) {
	if m.onStateChange != nil {
		m.onStateChange(task)
	}
}

// WaitForTask blocks until a task finishes and returns its error.
func (m *Manager) WaitForTask(ctx context.Context, id string) error {
	task := m.GetTask(id)
	if task == nil {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	select {
	case <-task.Done():
		return task.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll blocks until every added task finishes.
func (m *Manager) WaitAll(ctx context.Context) error {
	for _, task := range m.GetAllTasks() {
		select {
		case <-task.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
