package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"submaker/internal/models"
	"submaker/utils"
)

// VerifySyncRequest is the POST /subtitle/verify-sync body (SPEC_FULL.md
// supplemented feature 2). It is a lightweight timing-consistency check
// over the already-downloaded segments, not a video-analysis operation —
// spec.md §1's Non-goals exclude video/audio analysis, so this never reads
// or probes the media file itself, only the subtitle's own cue timestamps
// against an expected duration supplied by the caller.
type VerifySyncRequest struct {
	Segments                []models.Segment `json:"segments" binding:"required"`
	ExpectedDurationSeconds float64          `json:"expectedDurationSeconds"`
}

// SyncResult is grounded on the teacher's SubtitleSyncResult shape
// (IsValid/SyncOffset/Confidence), computed here from cue spacing instead
// of decoded audio/video frames.
type SyncResult struct {
	IsValid    bool    `json:"isValid"`
	SyncOffset float64 `json:"syncOffsetSeconds"`
	Confidence float64 `json:"confidence"`
}

// VerifySyncResponse wraps SyncResult in the uniform envelope.
type VerifySyncResponse struct {
	Success bool       `json:"success"`
	Result  SyncResult `json:"result"`
}

func parseSRTTimestamp(ts string) (float64, bool) {
	ts = strings.TrimSpace(ts)
	ts = strings.ReplaceAll(ts, ",", ".")
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + s, true
}

// VerifySubtitleSync handles POST /subtitle/verify-sync.
// @Summary Heuristically verify subtitle cue timing against an expected duration
// @Tags subtitles
// @Accept json
// @Produce json
// @Param body body VerifySyncRequest true "segments to check"
// @Success 200 {object} VerifySyncResponse
// @Failure 400 {object} utils.ErrorResponse
// @Router /subtitle/verify-sync [post]
func (h *Handlers) VerifySubtitleSync(c *gin.Context) {
	var req VerifySyncRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Segments) == 0 {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, "segments are required", nil)
		return
	}

	var firstStart, lastEnd float64
	var parsedCount int
	var monotonic int
	prevEnd := -1.0
	for i, seg := range req.Segments {
		start, ok1 := parseSRTTimestamp(seg.StartTime)
		end, ok2 := parseSRTTimestamp(seg.EndTime)
		if !ok1 || !ok2 {
			continue
		}
		parsedCount++
		if i == 0 {
			firstStart = start
		}
		lastEnd = end
		if start >= prevEnd {
			monotonic++
		}
		prevEnd = end
	}

	confidence := 0.0
	if parsedCount > 0 {
		confidence = float64(monotonic) / float64(parsedCount)
	}

	offset := 0.0
	if req.ExpectedDurationSeconds > 0 && lastEnd > 0 {
		offset = req.ExpectedDurationSeconds - lastEnd
	}
	_ = firstStart

	c.JSON(http.StatusOK, VerifySyncResponse{
		Success: true,
		Result: SyncResult{
			IsValid:    confidence > 0.7,
			SyncOffset: offset,
			Confidence: confidence,
		},
	})
}
