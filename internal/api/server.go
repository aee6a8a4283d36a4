package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/data"
	"github.com/Demedah/Appsjiabao/internal/evaluation"
	"github.com/Demedah/Appsjiabao/internal/features"
	"github.com/Demedah/Appsjiabao/internal/jobs"
	"github.com/Demedah/Appsjiabao/internal/logging"
	"github.com/Demedah/Appsjiabao/internal/persistence"
	"github.com/Demedah/Appsjiabao/internal/pipeline"
)

// multipartOverhead is added to the upload limit to leave room for form
// boundaries and headers.
const multipartOverhead = 64 << 10

type Server struct {
	cfg       *config.Config
	predictor *pipeline.Predictor
	trainer   *pipeline.Trainer
	store     *persistence.Store
	jobs      *jobs.Manager
	cache     *lru.Cache[string, *pipeline.Prediction]
	logger    *zap.Logger

	// Fetch downloads remote datasets. Tests replace it.
	Fetch func(ctx context.Context, url string) ([]byte, error)
}

func NewServer(cfg *config.Config, predictor *pipeline.Predictor, trainer *pipeline.Trainer, store *persistence.Store, manager *jobs.Manager, logger *zap.Logger) (*Server, error) {
	size := cfg.Server.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, *pipeline.Prediction](size)
	if err != nil {
		return nil, errors.Wrap(err, "create prediction cache")
	}
	if manager == nil {
		manager = jobs.NewManager()
	}

	return &Server{
		cfg:       cfg,
		predictor: predictor,
		trainer:   trainer,
		store:     store,
		jobs:      manager,
		cache:     cache,
		logger:    logging.OrNop(logger),
		Fetch:     data.Fetch,
	}, nil
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.MaxMultipartMemory = s.cfg.Server.MaxUploadBytes

	router.GET("/health", s.health)
	router.GET("/model", s.model)
	router.POST("/predict", s.predict)
	router.POST("/train", s.train)
	router.GET("/jobs", s.listJobs)
	router.GET("/jobs/:id", s.job)
}

// InvalidateCache drops cached predictions. Call it when the serving bundle
// changes outside of this server.
func (s *Server) InvalidateCache() {
	s.cache.Purge()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.predictor.State().String()})
}

func (s *Server) model(c *gin.Context) {
	b := s.predictor.Bundle()
	if b == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": pipeline.ErrModelNotTrained.Error(), "state": pipeline.Untrained.String()})
		return
	}
	c.JSON(http.StatusOK, bundleSummary(b))
}

func bundleSummary(b *persistence.Bundle) gin.H {
	return gin.H{
		"bundle_id":  b.ID,
		"created_at": b.CreatedAt,
		"dataset":    b.Metadata.Dataset,
		"samples":    b.Metadata.Samples,
		"accuracy":   b.Metadata.Accuracy,
		"f1":         b.Metadata.F1Score,
		"cv_mean":    b.Metadata.CVMean,
		"schema": gin.H{
			"version":     b.Schema.Version,
			"pixel_width": b.Schema.PixelWidth,
			"image_size":  b.Schema.ImageSize,
			"slots":       b.Schema.Slots,
			"classes":     b.Schema.Classes,
			"substitutes": b.Schema.Substitutes,
		},
		"report": b.Metadata.Report,
	}
}

func (s *Server) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadBytes+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > s.cfg.Server.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	raw, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	m, err := measurementsFromForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := cacheKey(raw, m)
	if b := s.predictor.Bundle(); b != nil {
		if pred, ok := s.cache.Get(key + b.ID); ok {
			c.Header("X-Cache", "hit")
			c.JSON(http.StatusOK, pred)
			return
		}
	}

	var pred *pipeline.Prediction
	if m != nil {
		pred, err = s.predictor.PredictWithMeasurements(c.Request.Context(), raw, *m)
	} else {
		pred, err = s.predictor.Predict(c.Request.Context(), raw)
	}
	if err != nil {
		s.writePredictError(c, err)
		return
	}

	s.cache.Add(key+pred.BundleID, pred)
	c.Header("X-Cache", "miss")
	c.JSON(http.StatusOK, pred)
}

func (s *Server) writePredictError(c *gin.Context, err error) {
	var extractErr *pipeline.FeatureExtractionError
	switch {
	case errors.Is(err, pipeline.ErrModelNotTrained):
		s.logger.Warn("prediction without a model", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": pipeline.ErrModelNotTrained.Error(), "state": pipeline.Untrained.String()})
	case errors.As(err, &extractErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.logger.Error("prediction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
	}
}

// measurementsFromForm returns nil unless oil, water and pore_size are all
// present.
func measurementsFromForm(c *gin.Context) (*features.Measurements, error) {
	oil, water, pore := c.PostForm("oil"), c.PostForm("water"), c.PostForm("pore_size")
	if oil == "" && water == "" && pore == "" {
		return nil, nil
	}
	if oil == "" || water == "" || pore == "" {
		return nil, errors.New("oil, water and pore_size must be given together")
	}

	o, err := parseReading("oil", oil)
	if err != nil {
		return nil, err
	}
	w, err := parseReading("water", water)
	if err != nil {
		return nil, err
	}
	return &features.Measurements{Oil: o, Water: w, PoreSize: pore}, nil
}

func parseReading(name, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Newf("invalid %s value %q: must be a finite number", name, value)
	}
	return v, nil
}

func cacheKey(raw []byte, m *features.Measurements) string {
	h := sha256.New()
	h.Write(raw)
	if m != nil {
		fmt.Fprintf(h, "|%g|%g|%s", m.Oil, m.Water, m.PoreSize)
	}
	return hex.EncodeToString(h.Sum(nil)) + ":"
}

type trainResult struct {
	BundleID string             `json:"bundle_id"`
	Dataset  string             `json:"dataset"`
	Accuracy float64            `json:"accuracy"`
	Report   *evaluation.Report `json:"report"`
}

// train fits a new bundle from an uploaded "dataset" CSV or from the "url"
// form field, falling back to the configured dataset URL. With async=true the
// work runs as a background job.
func (s *Server) train(c *gin.Context) {
	text, source, err := s.datasetFromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if async, _ := strconv.ParseBool(c.DefaultPostForm("async", c.Query("async"))); async {
		job := s.jobs.Submit(context.Background(), "train", "train on "+source, func(ctx context.Context, job *jobs.Job) (any, error) {
			return s.trainAndServe(ctx, job, text, source)
		})
		c.JSON(http.StatusAccepted, gin.H{"job": job.View()})
		return
	}

	result, err := s.trainAndServe(c.Request.Context(), nil, text, source)
	if err != nil {
		var formatErr *data.DatasetFormatError
		var rowErr *data.RowParseError
		var labelErr *features.LabelMappingError
		var poreErr *features.PoreSizeError
		var imputeErr *features.ImputationError
		if errors.As(err, &formatErr) || errors.As(err, &rowErr) || errors.As(err, &labelErr) ||
			errors.As(err, &poreErr) || errors.As(err, &imputeErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("training failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "training failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) datasetFromRequest(c *gin.Context) ([]byte, string, error) {
	if file, err := c.FormFile("dataset"); err == nil {
		src, err := file.Open()
		if err != nil {
			return nil, "", errors.Wrap(err, "open dataset upload")
		}
		defer src.Close()
		text, err := io.ReadAll(src)
		if err != nil {
			return nil, "", errors.Wrap(err, "read dataset upload")
		}
		return text, file.Filename, nil
	}

	url := c.PostForm("url")
	if url == "" {
		url = s.cfg.Dataset.URL
	}
	if url == "" {
		return nil, "", errors.New("dataset file or url is required")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	text, err := s.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	return text, url, nil
}

func (s *Server) trainAndServe(ctx context.Context, job *jobs.Job, text []byte, source string) (*trainResult, error) {
	progress := func(p float64, msg string) {
		if job != nil {
			job.SetProgress(p)
			job.AddLog(msg)
		}
	}

	progress(0.1, "training started")
	bundle, report, err := s.trainer.TrainFromCSV(ctx, bytes.NewReader(text), s.cfg.Dataset.Columns, source)
	if err != nil {
		return nil, err
	}

	progress(0.9, fmt.Sprintf("trained bundle %s, accuracy %.4f", bundle.ID, report.Accuracy))
	if err := s.store.Save(bundle); err != nil {
		return nil, err
	}
	if err := s.predictor.Use(bundle); err != nil {
		return nil, err
	}
	s.InvalidateCache()

	return &trainResult{
		BundleID: bundle.ID,
		Dataset:  source,
		Accuracy: report.Accuracy,
		Report:   report,
	}, nil
}

func (s *Server) listJobs(c *gin.Context) {
	list := s.jobs.ListJobs()
	views := make([]jobs.View, 0, len(list))
	for _, job := range list {
		views = append(views, job.View())
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) job(c *gin.Context) {
	job, ok := s.jobs.GetJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job.View())
}
