// Package api exposes the bucket service over HTTP.
package api

import (
	"strconv"
	"strings"

	"github.com/nimburion/bucketstore/pkg/controller"
	"github.com/nimburion/bucketstore/pkg/domain/bucket"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/server/router"
	"github.com/nimburion/bucketstore/pkg/service"
)

// BasePath prefixes every route registered by Handler.
const BasePath = "/api/v1"

// Handler serves the bucket and item routes.
type Handler struct {
	svc    *service.BucketService
	logger logger.Logger
}

// NewHandler creates a Handler over svc.
func NewHandler(svc *service.BucketService, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{svc: svc, logger: log}
}

// Register mounts the routes under BasePath.
func (h *Handler) Register(r router.Router) {
	v1 := r.Group(BasePath)

	v1.GET("/buckets", h.listBuckets)
	v1.POST("/buckets", h.createBucket)
	v1.GET("/buckets/:id", h.getBucket)
	v1.PUT("/buckets/:id", h.updateBucket)
	v1.DELETE("/buckets/:id", h.deleteBucket)

	v1.GET("/buckets/:id/items", h.listItems)
	v1.POST("/buckets/:id/items", h.addItem)
	v1.POST("/buckets/:id/items/batch", h.addItems)
	v1.GET("/buckets/:id/items/:itemId", h.getItem)
	v1.PUT("/buckets/:id/items/:itemId", h.updateItem)
	v1.DELETE("/buckets/:id/items/:itemId", h.removeItem)
}

// batchRequest is the body of POST /buckets/:id/items/batch.
type batchRequest struct {
	Items []service.ItemInput `json:"items" validate:"required"`
}

func (h *Handler) listBuckets(c router.Context) error {
	params, err := listParams(c, bucket.BucketFields.FilterNames())
	if err != nil {
		return h.fail(c, err)
	}
	page, err := h.svc.ListBuckets(c.Request().Context(), params)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Success(c, page)
}

func (h *Handler) getBucket(c router.Context) error {
	b, err := h.svc.GetBucket(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Success(c, b)
}

func (h *Handler) createBucket(c router.Context) error {
	var in service.BucketInput
	if err := c.Bind(&in); err != nil {
		return h.fail(c, controller.NewBindError(err))
	}
	b, err := h.svc.CreateBucket(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Created(c, b)
}

func (h *Handler) updateBucket(c router.Context) error {
	var in service.BucketInput
	if err := c.Bind(&in); err != nil {
		return h.fail(c, controller.NewBindError(err))
	}
	b, err := h.svc.UpdateBucket(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Success(c, b)
}

func (h *Handler) deleteBucket(c router.Context) error {
	if err := h.svc.DeleteBucket(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return controller.NoContent(c)
}

func (h *Handler) listItems(c router.Context) error {
	params, err := listParams(c, bucket.ItemFields.FilterNames())
	if err != nil {
		return h.fail(c, err)
	}
	page, err := h.svc.ListItems(c.Request().Context(), c.Param("id"), params)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Success(c, page)
}

func (h *Handler) getItem(c router.Context) error {
	item, err := h.svc.GetItem(c.Request().Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Success(c, item)
}

func (h *Handler) addItem(c router.Context) error {
	var in service.ItemInput
	if err := c.Bind(&in); err != nil {
		return h.fail(c, controller.NewBindError(err))
	}
	item, err := h.svc.AddItem(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Created(c, item)
}

func (h *Handler) addItems(c router.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, controller.NewBindError(err))
	}
	if err := controller.ValidateDTO(req); err != nil {
		return h.fail(c, err)
	}
	items, err := h.svc.AddItems(c.Request().Context(), c.Param("id"), req.Items)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Created(c, items)
}

func (h *Handler) updateItem(c router.Context) error {
	var in service.ItemInput
	if err := c.Bind(&in); err != nil {
		return h.fail(c, controller.NewBindError(err))
	}
	item, err := h.svc.UpdateItem(c.Request().Context(), c.Param("id"), c.Param("itemId"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Success(c, item)
}

func (h *Handler) removeItem(c router.Context) error {
	if err := h.svc.RemoveItem(c.Request().Context(), c.Param("id"), c.Param("itemId")); err != nil {
		return h.fail(c, err)
	}
	return controller.NoContent(c)
}

// fail writes the error response. Server-side failures are logged, client
// errors are not.
func (h *Handler) fail(c router.Context, err error) error {
	status, resp := controller.MapError(c.Request().Context(), err)
	if status >= 500 {
		h.logger.WithContext(c.Request().Context()).Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
	}
	return c.JSON(status, resp)
}

// listParams reads paging, sorting and the allowed filters from the query string.
func listParams(c router.Context, filters []string) (service.ListParams, error) {
	params := service.ListParams{
		Sort:   c.Query("sort"),
		Filter: make(map[string]string, len(filters)),
	}

	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, query.NewArgumentError("limit", "must be an integer, got "+strconv.Quote(raw))
		}
		params.Limit = &n
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, query.NewArgumentError("offset", "must be an integer, got "+strconv.Quote(raw))
		}
		params.Offset = n
	}

	for _, name := range filters {
		if v := c.Query(name); v != "" {
			params.Filter[name] = v
		}
	}
	return params, nil
}
