package controller

import (
	"net/http"

	"github.com/nimburion/bucketstore/pkg/middleware"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// SuccessResponse wraps every successful payload.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// Success writes data with 200 OK.
func Success(c router.Context, data interface{}) error {
	return respond(c, http.StatusOK, data)
}

// Created writes data with 201 Created.
func Created(c router.Context, data interface{}) error {
	return respond(c, http.StatusCreated, data)
}

// NoContent writes 204 with an empty body.
func NoContent(c router.Context) error {
	c.Response().WriteHeader(http.StatusNoContent)
	return nil
}

// Error writes the response MapError derives from err.
func Error(c router.Context, err error) error {
	status, resp := MapError(c.Request().Context(), err)
	return c.JSON(status, resp)
}

func respond(c router.Context, status int, data interface{}) error {
	return c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: middleware.RequestIDFrom(c.Request().Context()),
	})
}
