package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/pipeline"
	"murmur/internal/task"
	"murmur/internal/timing"
	"murmur/internal/transcribe"
)

// processRequest is the voice endpoint's wire shape. Audio arrives base64
// encoded; decoding happens in bounded chunks before the pipeline sees it.
type processRequest struct {
	Audio                     string `json:"audio"`
	ForceAggressiveCorrection bool   `json:"forceAggressiveCorrection"`
}

type processResponse struct {
	Success          bool              `json:"success"`
	RunID            string            `json:"runId"`
	State            pipeline.RunState `json:"state"`
	RawTranscription string            `json:"rawTranscription"`
	CleanedText      string            `json:"cleanedText"`
	ExtractedTasks   []task.Candidate  `json:"extractedTasks"`
	Improvements     string            `json:"improvements"`
	Confidence       task.Confidence   `json:"confidence"`
	PotentialErrors  []string          `json:"potentialErrors"`
	Timings          timing.Timings    `json:"timings"`
	TaskIDs          []string          `json:"taskIds,omitempty"`
	ActionIDs        []string          `json:"actionIds,omitempty"`
}

type processFailure struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Timings timing.Timings `json:"timings"`
}

func (s *Server) handleVoiceProcess(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, processFailure{Error: "invalid request body"})
		return
	}

	audio, err := transcribe.DecodeAudio(req.Audio)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, murmurerrors.ErrEmptyAudio) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, processFailure{Error: err.Error()})
		return
	}

	result, err := s.processor.Process(c.Request.Context(), audio, req.ForceAggressiveCorrection)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, murmurerrors.ErrTranscriptionUnavailable) {
			status = http.StatusBadGateway
		}
		failure := processFailure{Error: err.Error()}
		if result != nil {
			failure.Timings = result.Timings
		}
		c.JSON(status, failure)
		return
	}
	if result.State == pipeline.RunFailed {
		c.JSON(http.StatusInternalServerError, processFailure{
			Error:   persistError(result),
			Timings: result.Timings,
		})
		return
	}
	c.JSON(http.StatusOK, toProcessResponse(result))
}

func persistError(result *pipeline.Result) string {
	if n := len(result.Extracted.PotentialErrors); n > 0 {
		return result.Extracted.PotentialErrors[n-1]
	}
	return "pipeline run failed"
}

func (s *Server) handleAccept(c *gin.Context) {
	result, err := s.processor.Accept(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.reviewError(c, err, result)
		return
	}
	c.JSON(http.StatusOK, toProcessResponse(result))
}

func (s *Server) handleRetry(c *gin.Context) {
	var req struct {
		ForceAggressiveCorrection bool `json:"forceAggressiveCorrection"`
	}
	_ = c.ShouldBindJSON(&req) // empty body means default options

	result, err := s.processor.Retry(c.Request.Context(), c.Param("id"), req.ForceAggressiveCorrection)
	if err != nil {
		s.reviewError(c, err, result)
		return
	}
	c.JSON(http.StatusOK, toProcessResponse(result))
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.processor.Cancel(c.Param("id")); err != nil {
		s.reviewError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) reviewError(c *gin.Context, err error, result *pipeline.Result) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrUnknownRun):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrReviewResolved):
		status = http.StatusConflict
	}
	failure := processFailure{Error: err.Error()}
	if result != nil {
		failure.Timings = result.Timings
	}
	c.JSON(status, failure)
}

func (s *Server) handleSweep(c *gin.Context) {
	report, err := s.sweeper.Sweep(c.Request.Context())
	if err != nil {
		s.logger.Error("manual sweep failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.tasks.ListTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks})
}

func toProcessResponse(result *pipeline.Result) processResponse {
	return processResponse{
		Success:          true,
		RunID:            result.RunID,
		State:            result.State,
		RawTranscription: result.Extracted.RawTranscription,
		CleanedText:      result.Extracted.CleanedText,
		ExtractedTasks:   result.Extracted.Candidates,
		Improvements:     result.Extracted.Improvements,
		Confidence:       result.Extracted.Confidence,
		PotentialErrors:  result.Extracted.PotentialErrors,
		Timings:          result.Timings,
		TaskIDs:          result.TaskIDs,
		ActionIDs:        result.ActionIDs,
	}
}
