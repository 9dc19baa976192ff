package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/service"
)

// Response is the envelope of every API reply.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// violationData is the data of a RULE_VIOLATION reply.
type violationData struct {
	Reasons             []string `json:"reasons"`
	SuggestedPriceRange any      `json:"suggested_price_range,omitempty"`
	RetryAfterSeconds   int64    `json:"retry_after_seconds,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: service.CodeOK, Message: "success", Data: data})
}

func paramError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: service.CodeInvalidRequest, Message: message})
}

func statusFor(code string) int {
	switch code {
	case service.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case service.CodeTryAgain:
		return http.StatusServiceUnavailable
	case service.CodeListingUnavailable, service.CodeConflict:
		return http.StatusConflict
	case service.CodeRuleViolation:
		return http.StatusUnprocessableEntity
	case service.CodePackTierNotFound, service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeForbidden:
		return http.StatusForbidden
	case service.CodeInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes the error reply for err. Internal errors are logged and masked.
func fail(c *gin.Context, err error) {
	code := service.Code(err)
	resp := Response{Code: code, Message: err.Error()}

	var rv *service.RuleViolationError
	if errors.As(err, &rv) {
		data := violationData{Reasons: rv.Reasons, RetryAfterSeconds: int64(rv.RetryAfter.Seconds())}
		if rv.SuggestedPriceRange != nil {
			data.SuggestedPriceRange = rv.SuggestedPriceRange
		}
		resp.Data = data
	}

	if code == service.CodeInternal {
		log.Error().Err(err).
			Str("request_id", c.GetString(requestIDKey)).
			Str("path", c.FullPath()).
			Msg("Request failed")
		resp.Message = "internal error"
	}

	c.JSON(statusFor(code), resp)
}
