package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collabforge/colabhub/internal/aiqueue"
)

// aiEditRequest is POST /ai/edit's body, per spec.md §6.
type aiEditRequest struct {
	SelectedText string `json:"selectedText" binding:"required"`
	Prompt       string `json:"prompt" binding:"required"`
}

type aiEditResponse struct {
	Result string `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAIEdit implements the single-shot solo-editor path: it calls the
// completer directly, bypassing AIQueue's rate limiting, dedup and caching
// entirely, since there is no collaborative session to serialize against.
func (s *Server) handleAIEdit(c *gin.Context) {
	var req aiEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "selectedText and prompt are required"})
		return
	}

	result, err := s.completer.Complete(c.Request.Context(), aiqueue.AIRequest{
		SelectedText: req.SelectedText,
		Prompt:       req.Prompt,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if !result.Success {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: result.Error})
		return
	}

	c.JSON(http.StatusOK, aiEditResponse{Result: result.Result})
}
