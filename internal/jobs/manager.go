package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Func is the body of a background job. It should return promptly once ctx
// is cancelled.
type Func func(ctx context.Context, job *Job) (any, error)

type Job struct {
	ID          string
	Type        string
	Description string
	StartTime   time.Time

	mu         sync.RWMutex
	status     JobStatus
	progress   float64
	endTime    *time.Time
	err        error
	result     any
	logs       []string
	cancelFunc func()
}

// View is a point-in-time copy of a job, safe to serialise.
type View struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Error       string     `json:"error,omitempty"`
	Logs        []string   `json:"logs,omitempty"`
}

type Manager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
	wg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		jobs: make(map[string]*Job),
	}
}

func (m *Manager) CreateJob(jobType, description string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &Job{
		ID:          fmt.Sprintf("%s_%s", jobType, uuid.NewString()[:8]),
		Type:        jobType,
		Description: description,
		StartTime:   time.Now(),
		status:      JobPending,
	}

	m.jobs[job.ID] = job
	return job
}

// Submit runs fn in the background and returns its job immediately.
func (m *Manager) Submit(parent context.Context, jobType, description string, fn Func) *Job {
	job := m.CreateJob(jobType, description)
	ctx, cancel := context.WithCancel(parent)
	job.SetCancelFunc(cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		job.SetStatus(JobRunning)
		result, err := fn(ctx, job)

		switch {
		case job.GetStatus() == JobCancelled:
		case err != nil && errors.Is(err, context.Canceled):
			job.AddLog("cancelled")
			job.SetStatus(JobCancelled)
		case err != nil:
			job.AddLog(err.Error())
			job.SetError(err)
		default:
			job.SetResult(result)
			job.SetProgress(1)
			job.SetStatus(JobCompleted)
		}
	}()

	return job
}

// Wait blocks until every submitted job has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) GetJob(jobID string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	return job, exists
}

// ListJobs returns all jobs, oldest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

func (m *Manager) CancelJob(jobID string) error {
	job, exists := m.GetJob(jobID)
	if !exists {
		return errors.Newf("job %s not found", jobID)
	}

	job.mu.Lock()
	defer job.mu.Unlock()

	if job.status != JobRunning && job.status != JobPending {
		return errors.Newf("job %s is not running", jobID)
	}

	if job.cancelFunc != nil {
		job.cancelFunc()
	}
	job.status = JobCancelled
	now := time.Now()
	job.endTime = &now
	return nil
}

func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobCancelled {
		return
	}
	j.status = status
	if status == JobCompleted || status == JobFailed || status == JobCancelled {
		now := time.Now()
		j.endTime = &now
	}
}

func (j *Job) SetProgress(progress float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = progress
}

func (j *Job) AddLog(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	timestamp := time.Now().Format("15:04:05")
	j.logs = append(j.logs, fmt.Sprintf("[%s] %s", timestamp, message))
}

func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
	j.status = JobFailed
	now := time.Now()
	j.endTime = &now
}

func (j *Job) SetResult(result any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = result
}

func (j *Job) SetCancelFunc(cancelFunc func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelFunc = cancelFunc
}

func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) GetProgress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

func (j *Job) GetResult() any {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

func (j *Job) GetError() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *Job) GetLogs() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	logs := make([]string, len(j.logs))
	copy(logs, j.logs)
	return logs
}

func (j *Job) View() View {
	j.mu.RLock()
	defer j.mu.RUnlock()

	v := View{
		ID:          j.ID,
		Type:        j.Type,
		Description: j.Description,
		Status:      j.status,
		Progress:    j.progress,
		StartTime:   j.StartTime,
		EndTime:     j.endTime,
		Logs:        append([]string(nil), j.logs...),
	}
	if j.err != nil {
		v.Error = j.err.Error()
	}
	return v
}
