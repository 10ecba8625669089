// Package response writes the JSON envelope every endpoint answers with.
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/internal/roles"
)

// Code tells clients why a request failed without parsing the message.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation"
	CodeConstraint   Code = "constraint"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"
)

// Body is the API response envelope. Failures carry a message and a Code.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    Code        `json:"code,omitempty"`
}

func fail(c *gin.Context, status int, code Code, msg string) {
	c.JSON(status, Body{Error: msg, Code: code})
}

// OK sends 200 with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends 201 with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 for malformed input: bad ids, unparsable bodies.
func BadRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, CodeBadRequest, msg)
}

func Unauthorized(c *gin.Context, msg string) {
	fail(c, http.StatusUnauthorized, CodeUnauthorized, msg)
}

func Forbidden(c *gin.Context, msg string) {
	fail(c, http.StatusForbidden, CodeForbidden, msg)
}

func NotFound(c *gin.Context, msg string) {
	fail(c, http.StatusNotFound, CodeNotFound, msg)
}

func Conflict(c *gin.Context, msg string) {
	fail(c, http.StatusConflict, CodeConflict, msg)
}

func ServiceUnavailable(c *gin.Context, msg string) {
	fail(c, http.StatusServiceUnavailable, CodeUnavailable, msg)
}

// Internal sends 500. msg must not leak the underlying error.
func Internal(c *gin.Context, msg string) {
	fail(c, http.StatusInternalServerError, CodeInternal, msg)
}

// Error maps a service error onto the envelope. Role validation and
// constraint failures are 400 with their own message and kind, missing rows
// 404, anything else 500 with fallback.
func Error(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, roles.ErrValidation):
		fail(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, roles.ErrConstraint):
		fail(c, http.StatusBadRequest, CodeConstraint, err.Error())
	case errors.Is(err, models.ErrNotFound):
		NotFound(c, "not found")
	default:
		Internal(c, fallback)
	}
}
