package http

import (
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"rbfnet/training"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a training session running in the background.
type Job struct {
	ID         string           `json:"job_id"`
	Status     JobStatus        `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *training.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// jobStore keeps the most recent jobs. A job is forgotten once size newer
// jobs exist or ttl passes without an update.
type jobStore struct {
	mu   sync.Mutex
	jobs *expirable.LRU[string, *Job]
}

func newJobStore(size int, ttl time.Duration) *jobStore {
	return &jobStore{jobs: expirable.NewLRU[string, *Job](size, nil, ttl)}
}

func (s *jobStore) create() *Job {
	job := &Job{ID: uuid.NewString(), Status: JobPending, CreatedAt: time.Now()}
	s.mu.Lock()
	s.jobs.Add(job.ID, job)
	s.mu.Unlock()
	return job
}

// get returns a copy so callers can read it without holding the lock.
func (s *jobStore) get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs.Get(id)
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// update applies fn to a job still held and restarts its ttl.
func (s *jobStore) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs.Peek(id); ok {
		fn(job)
		s.jobs.Add(id, job)
	}
}

// handleStartTraining reads the dataset from the body, then trains off the
// request path and answers 202 with the job id right away.
func (s *Server) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	req, err := s.trainingRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}

	job := s.jobs.create()
	req.JobID = job.ID
	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("request_id", GetRequestID(r.Context())))
	logger.Info("training job accepted",
		zap.String("dataset", req.Dataset.Name),
		zap.Int("patterns", len(req.Dataset.Rows)))

	s.jobWG.Add(1)
	go func() {
		defer s.jobWG.Done()
		s.jobs.update(job.ID, func(j *Job) { j.Status = JobRunning })

		res, err := s.deps.Runner.Run(s.jobCtx, req)
		finished := time.Now()
		s.jobs.update(job.ID, func(j *Job) {
			j.FinishedAt = &finished
			if err != nil {
				j.Status = JobFailed
				j.Error = err.Error()
				return
			}
			j.Status = JobDone
			j.Result = res
		})
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(JobPending)})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(r.PathValue("id"))
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// trainingRequest builds a session from query parameters and the uploaded
// dataset. Parameters left out fall back to the configured defaults; zero
// centers or error leave the choice to auto-configuration.
func (s *Server) trainingRequest(r *http.Request) (training.Request, error) {
	q := r.URL.Query()
	d := s.config.Defaults

	target := q.Get("target")
	if target == "" {
		return training.Request{}, badRequest("target is required")
	}
	centers, err := intParam(q, "centers", d.DefaultCenters)
	if err != nil {
		return training.Request{}, err
	}
	errThreshold, err := floatParam(q, "error", d.DefaultError)
	if err != nil {
		return training.Request{}, err
	}
	ratio, err := floatParam(q, "train_ratio", d.TrainRatio)
	if err != nil {
		return training.Request{}, err
	}
	seed, err := int64Param(q, "seed", d.Seed)
	if err != nil {
		return training.Request{}, err
	}
	normalize, err := boolParam(q, "normalize", d.Normalize)
	if err != nil {
		return training.Request{}, err
	}
	dedup, err := boolParam(q, "dedup", false)
	if err != nil {
		return training.Request{}, err
	}
	save, err := boolParam(q, "save", true)
	if err != nil {
		return training.Request{}, err
	}

	ds, err := s.readDataset(r)
	if err != nil {
		return training.Request{}, err
	}
	name := q.Get("name")
	if name == "" {
		name = ds.Name
	}
	return training.Request{
		Name:           name,
		Description:    q.Get("description"),
		Dataset:        ds,
		Target:         target,
		Centers:        centers,
		ErrorThreshold: errThreshold,
		TrainRatio:     ratio,
		Seed:           seed,
		Normalize:      normalize,
		Deduplicate:    dedup,
		Save:           save,
	}, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return n, nil
}

func int64Param(q url.Values, key string, def int64) (int64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return n, nil
}

func floatParam(q url.Values, key string, def float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, badRequest("%s must be a number", key)
	}
	return f, nil
}

func boolParam(q url.Values, key string, def bool) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("%s must be true or false", key)
	}
	return b, nil
}
