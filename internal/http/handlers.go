package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/application"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// AnalyzeRequest is the JSON body of POST /api/analyze. Multipart requests
// carry the same fields as form values plus a score_file upload in place of
// score_ref.
type AnalyzeRequest struct {
	// ScoreRef names a document already in the store.
	ScoreRef string `json:"score_ref" validate:"omitempty,max=128"`

	TargetGrade *float64 `json:"target_grade"`

	// TargetOnly skips confidence curves and observed grades.
	TargetOnly bool `json:"target_only"`

	// StringsOnly applies the string-instrument rule tables.
	StringsOnly bool `json:"strings_only"`

	// FullGradeAnalysis samples the half-grade scale instead of the default.
	FullGradeAnalysis bool `json:"full_grade_analysis"`

	// ObservedGrades overrides the sampled scale entirely.
	ObservedGrades []float64 `json:"observed_grades" validate:"omitempty,max=20,dive,gte=0.5,lte=5"`
}

// AnalyzeResponse is returned when a job is accepted.
type AnalyzeResponse struct {
	JobID string `json:"job_id"`
}

// GradesResponse describes the grade scales a client may request.
type GradesResponse struct {
	Default domain.Scale `json:"default"`
	Full    domain.Scale `json:"full"`
	Min     domain.Grade `json:"min"`
	Max     domain.Grade `json:"max"`
}

func (s *Server) handleAnalyze(c echo.Context) error {
	req, err := s.bindAnalyze(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.fail(c, requestError(err.Error()))
	}

	id, err := s.engine.Submit(c.Request().Context(), submitRequest(req))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, AnalyzeResponse{JobID: id})
}

// bindAnalyze reads either form. An uploaded file is stored first and its
// reference takes the place of score_ref.
func (s *Server) bindAnalyze(c echo.Context) (AnalyzeRequest, error) {
	r := c.Request()
	if !strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		var req AnalyzeRequest
		body := http.MaxBytesReader(c.Response(), r.Body, multipartOverhead)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			var merr *http.MaxBytesError
			if errors.As(err, &merr) {
				return req, err
			}
			return req, requestError("invalid request body")
		}
		return req, nil
	}

	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.config.MaxUploadBytes+multipartOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var merr *http.MaxBytesError
		if errors.As(err, &merr) {
			return AnalyzeRequest{}, fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrPayloadTooLarge, s.config.MaxUploadBytes)
		}
		return AnalyzeRequest{}, requestError("invalid multipart form")
	}

	var req AnalyzeRequest
	verr := domain.NewValidationError("request")
	req.ScoreRef = formValue(form, "score_ref")
	if v := formValue(form, "target_grade"); v != "" {
		g, err := domain.ParseGrade(v)
		if err != nil {
			verr.AddError(fmt.Sprintf("invalid target grade %q", v))
		} else {
			f := float64(g)
			req.TargetGrade = &f
		}
	}
	flags := []struct {
		name string
		dst  *bool
	}{
		{"target_only", &req.TargetOnly},
		{"strings_only", &req.StringsOnly},
		{"full_grade_analysis", &req.FullGradeAnalysis},
	}
	for _, f := range flags {
		b, err := formBool(form, f.name)
		if err != nil {
			verr.AddError(err.Error())
		}
		*f.dst = b
	}
	if verr.HasErrors() {
		return req, verr
	}

	if files := form.File["score_file"]; len(files) > 0 {
		ref, err := s.storeUpload(c, files[0])
		if err != nil {
			return req, err
		}
		req.ScoreRef = ref
	}
	return req, nil
}

func (s *Server) storeUpload(c echo.Context, fh *multipart.FileHeader) (string, error) {
	if fh.Size > s.config.MaxUploadBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrPayloadTooLarge, fh.Size, s.config.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return "", requestError("unreadable score_file")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.config.MaxUploadBytes+1))
	if err != nil {
		return "", requestError("unreadable score_file")
	}

	ref, err := s.store.Save(c.Request().Context(), fh.Filename, data)
	if err != nil {
		return "", err
	}
	s.logger.Debug("score uploaded",
		zap.String("ref", ref),
		zap.String("filename", fh.Filename),
		zap.Int("bytes", len(data)),
	)
	return ref, nil
}

func submitRequest(req AnalyzeRequest) application.SubmitRequest {
	opts := domain.AnalysisOptions{
		RunObserved: !req.TargetOnly,
		Eval:        domain.EvalOptions{RestrictToStrings: req.StringsOnly},
	}
	if opts.RunObserved {
		switch {
		case len(req.ObservedGrades) > 0:
			scale := make(domain.Scale, len(req.ObservedGrades))
			for i, g := range req.ObservedGrades {
				scale[i] = domain.Grade(g)
			}
			opts.ObservedGrades = scale.Normalize()
		case req.FullGradeAnalysis:
			opts.ObservedGrades = domain.FullScale
		default:
			opts.ObservedGrades = domain.DefaultScale
		}
	}

	sr := application.SubmitRequest{
		DocumentRef: req.ScoreRef,
		Options:     opts,
		Mode:        domain.ModeQueued,
	}
	if req.TargetGrade != nil {
		sr.TargetGrade = domain.Some(domain.Grade(*req.TargetGrade))
	}
	return sr
}

// handleProgress streams job events as server-sent events, one JSON object
// per data line. The stream ends after the done event.
func (s *Server) handleProgress(c echo.Context) error {
	var heartbeat time.Duration
	if v := c.QueryParam("heartbeat"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 100*time.Millisecond {
			return s.fail(c, requestError(fmt.Sprintf("invalid heartbeat %q", v)))
		}
		heartbeat = d
	}

	ctx := c.Request().Context()
	events, err := s.engine.Stream(ctx, c.Param("id"), heartbeat)
	if err != nil {
		return s.fail(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("encode progress event", zap.String("job_id", ev.JobID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) handleResult(c echo.Context) error {
	res, err := s.engine.Result(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleJob(c echo.Context) error {
	info, err := s.engine.Info(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleCancel(c echo.Context) error {
	if err := s.engine.Cancel(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGrades(c echo.Context) error {
	return c.JSON(http.StatusOK, GradesResponse{
		Default: domain.DefaultScale,
		Full:    domain.FullScale,
		Min:     domain.MinGrade,
		Max:     domain.MaxGrade,
	})
}

func requestError(msg string) error {
	verr := domain.NewValidationError("request")
	verr.AddError(msg)
	return verr
}

func formValue(form *multipart.Form, name string) string {
	if vs := form.Value[name]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func formBool(form *multipart.Form, name string) (bool, error) {
	v := formValue(form, name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", name, v)
	}
	return b, nil
}
