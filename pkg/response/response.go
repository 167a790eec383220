package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
)

// ErrorBody is the JSON contract for every failed request.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// MessageBody is the JSON contract for command-style endpoints.
type MessageBody struct {
	Message string `json:"message"`
}

// JSON sends data as-is with caching disabled.
func JSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, data)
}

// Message responds with {"message": msg} merged with optional extra fields.
func Message(c *gin.Context, status int, msg string, extra ...gin.H) {
	body := gin.H{"message": msg}
	for _, fields := range extra {
		for k, v := range fields {
			body[k] = v
		}
	}
	JSON(c, status, body)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, msg string, extra ...gin.H) {
	Message(c, http.StatusCreated, msg, extra...)
}

// Error converts err to the common error body. The original error is kept on
// the gin context so the request logger can report the cause.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	_ = c.Error(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, ErrorBody{Message: appErr.Message, Code: appErr.Code})
}

// Abort writes the error and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
