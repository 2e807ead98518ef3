package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cutledger/internal/fabric"
	"cutledger/pkg/domain"
)

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var violation domain.RuleViolationError
	switch {
	case errors.Is(err, fabric.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fabric.ErrInsufficientStock):
		return http.StatusConflict
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &violation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var verr *fabric.ValidationError
	if errors.As(err, &verr) {
		body["reason"] = verr.Reason
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		body["violations"] = violations(violation.Result)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

type violationDTO struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Entity   string `json:"entity"`
	EntityID string `json:"entity_id"`
}

func violations(res domain.Result) []violationDTO {
	out := make([]violationDTO, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, violationDTO{
			Rule:     v.Rule,
			Severity: string(v.Severity),
			Message:  v.Message,
			Entity:   string(v.Entity),
			EntityID: v.EntityID,
		})
	}
	return out
}
