package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"vec_server/server/common/transport/httpresp"
	"vec_server/server/vecman/domain"
	"vec_server/server/vecman/service"
)

type Handler struct {
	content *service.ContentService
	parser  *service.EmailParserService
}

// NewHandler wires the content service and the optional email parser; parser
// may be nil when no LLM key is configured.
func NewHandler(content *service.ContentService, parser *service.EmailParserService) *Handler {
	return &Handler{content: content, parser: parser}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpresp.NewHealthResponse("ok"))
	})

	api := r.Group("/api/v1")
	{
		api.POST("/add/", h.addItems)
		api.POST("/update/", h.updateItem)
		api.POST("/search/", h.search)
		api.POST("/parse-email/", h.parseEmail)
	}
}

func (h *Handler) addItems(c *gin.Context) {
	var items []domain.ContentItem
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}

	results, err := h.content.AddItems(c.Request.Context(), items)
	if err != nil {
		if errors.Is(err, service.ErrNoItemsAdded) {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrNoItemsAdded))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) updateItem(c *gin.Context) {
	var req domain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}

	result, err := h.content.UpdateItem(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(
				fmt.Sprintf("item with content_id %s not found", req.ContentID)))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(
			fmt.Sprintf("error processing update: %v", err)))
		return
	}

	if result.Deleted {
		c.JSON(http.StatusOK, NewUpdateResponse("item deleted successfully", req.ContentID, nil))
		return
	}
	c.JSON(http.StatusOK, NewUpdateResponse("item updated successfully", req.ContentID, result.Details))
}

func (h *Handler) search(c *gin.Context) {
	var query domain.SearchQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if query.ContentType != "" && !query.ContentType.Valid() {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(
			fmt.Sprintf("unknown content type %q", query.ContentType)))
		return
	}

	results, err := h.content.Search(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(
			fmt.Sprintf("search failed: %v", err)))
		return
	}
	c.JSON(http.StatusOK, NewSearchResponse(query.Query, results))
}

func (h *Handler) parseEmail(c *gin.Context) {
	if h.parser == nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrParserDisabled))
		return
	}

	var req struct {
		EmailContent string `json:"email_content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}

	parsed, err := h.parser.ParseThread(c.Request.Context(), req.EmailContent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(
			fmt.Sprintf("error parsing email thread: %v", err)))
		return
	}
	c.JSON(http.StatusOK, parsed)
}
