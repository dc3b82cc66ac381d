package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"rbfnet/db"
	"rbfnet/ml"
	"rbfnet/pipeline"
	"rbfnet/training"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, db.ErrTrainingNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, ml.ErrConfiguration),
		errors.Is(err, ml.ErrDimension),
		errors.Is(err, pipeline.ErrUnknownColumn),
		errors.Is(err, pipeline.ErrUnsupportedFormat),
		errors.Is(err, pipeline.ErrNoDataset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid training id %q", r.PathValue("id"))
	}
	return id, nil
}

func (s *Server) handleListTrainings(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Catalog.ListTrainings(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if list == nil {
		list = []db.TrainingSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"trainings": list})
}

func (s *Server) handleGetTraining(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	t, err := s.deps.Catalog.LoadTraining(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTraining(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.deps.Catalog.DeleteTraining(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	if s.deps.Predictor != nil {
		s.deps.Predictor.Forget(id)
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

func (s *Server) handleExportTraining(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	doc, err := s.deps.Catalog.Export(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="training_%d.json"`, id))
	respondJSON(w, http.StatusOK, doc)
}

type predictRequest struct {
	Inputs [][]float64 `json:"inputs"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, err)
			return
		}
		respondError(w, badRequest("invalid body: %v", err))
		return
	}
	pred, err := s.deps.Predictor.Predict(r.Context(), id, req.Inputs)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pred)
}

type inspectResponse struct {
	Dataset pipeline.DatasetInfo     `json:"dataset"`
	Columns []pipeline.ColumnSummary `json:"columns"`
}

// handleInspect summarises the columns of an uploaded dataset.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, err)
		return
	}
	columns, err := pipeline.NewPreprocessor(ds, s.logger).Inspect()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inspectResponse{Dataset: ds.Info(), Columns: columns})
}

// handleAutoConfig preprocesses an uploaded dataset, splits it like a
// training request would and proposes a configuration without training.
func (s *Server) handleAutoConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("target")
	if target == "" {
		respondError(w, badRequest("target is required"))
		return
	}
	ratio, err := floatParam(q, "train_ratio", s.config.Defaults.TrainRatio)
	if err != nil {
		respondError(w, err)
		return
	}
	seed, err := int64Param(q, "seed", s.config.Defaults.Seed)
	if err != nil {
		respondError(w, err)
		return
	}
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, err)
		return
	}
	suggestion, err := training.Suggest(ds, target, ratio, seed, s.logger)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, suggestion)
}

// readDataset parses the request body as a dataset using the format and
// charset query parameters.
func (s *Server) readDataset(r *http.Request) (*pipeline.Dataset, error) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = pipeline.FormatCSV
	}
	name := q.Get("dataset")
	if name == "" {
		name = "upload." + format
	}
	ds, err := pipeline.LoadReader(r.Body, name, format, q.Get("charset"))
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			return nil, badRequest("read dataset: %v", err)
		}
		return nil, err
	}
	return ds, nil
}
