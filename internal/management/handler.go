package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mailflow/internal/constants"
	"mailflow/internal/logger"
	"mailflow/pkg/cel"
	"mailflow/pkg/errors"
)

const changedByHeader = "X-Changed-By"

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

func actorFrom(c *gin.Context) Actor {
	changedBy := c.GetHeader(changedByHeader)
	if changedBy == "" {
		changedBy = "api"
	}
	return Actor{ChangedBy: changedBy, IPAddress: c.ClientIP()}
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		pipeline := v1.Group("/pipeline")
		{
			pipeline.GET("/processors", h.ListProcessors)
			pipeline.POST("/reload", h.ReloadPipeline)
			pipeline.POST("/expressions/validate", h.ValidateExpression)
			pipeline.GET("/expressions/examples", h.ExpressionExamples)
		}

		v1.POST("/mails", h.SubmitMail)

		repos := v1.Group("/repositories")
		{
			repos.GET("", h.ListRepositories)
			repos.GET("/:name/mails", h.ListMails)
			repos.GET("/:name/mails/:id", h.GetMail)
			repos.DELETE("/:name/mails/:id", h.DeleteMail)
			repos.POST("/:name/mails/:id/reprocess", h.ReprocessMail)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("/logs", h.GetAuditLogs)
		}
	}
}

// ListProcessors godoc
// @Summary      List processors
// @Description  Get the processors of the running pipeline with their rules
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  PipelineInfo
// @Failure      503  {object}  map[string]interface{}
// @Router       /pipeline/processors [get]
func (h *Handler) ListProcessors(c *gin.Context) {
	info, err := h.Service.ListProcessors(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ReloadPipeline godoc
// @Summary      Reload the pipeline
// @Description  Rebuild the processors from configuration, on this instance or on every instance when config events are enabled
// @Tags         pipeline
// @Produce      json
// @Param        X-Changed-By  header    string  false  "Operator name recorded in the audit log"
// @Success      200  {object}  ReloadResponse
// @Failure      422  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}
// @Router       /pipeline/reload [post]
func (h *Handler) ReloadPipeline(c *gin.Context) {
	resp, err := h.Service.ReloadPipeline(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ValidateExpression godoc
// @Summary      Validate a CEL expression
// @Description  Compile an expression as the CEL matcher or the attribute mailets would
// @Tags         pipeline
// @Accept       json
// @Produce      json
// @Param        expression  body      ValidateExpressionRequest  true  "Expression to compile"
// @Success      200  {object}  ValidateExpressionResponse
// @Failure      400  {object}  map[string]interface{}
// @Router       /pipeline/expressions/validate [post]
func (h *Handler) ValidateExpression(c *gin.Context) {
	var req ValidateExpressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := ValidateExpression(req); err != nil {
		c.JSON(http.StatusOK, ValidateExpressionResponse{Valid: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ValidateExpressionResponse{Valid: true})
}

// ExpressionExamples godoc
// @Summary      Example expressions
// @Description  Sample CEL expressions accepted by the Expression matcher
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /pipeline/expressions/examples [get]
func (h *Handler) ExpressionExamples(c *gin.Context) {
	c.JSON(http.StatusOK, cel.FilterExpressionExamples)
}

// SubmitMail godoc
// @Summary      Submit a mail
// @Description  Spool a new mail for processing, starting at root unless a state is given
// @Tags         mails
// @Accept       json
// @Produce      json
// @Param        mail  body      SubmitMailRequest  true  "Mail to submit"
// @Success      202   {object}  SubmitMailResponse
// @Failure      400   {object}  map[string]interface{}
// @Failure      503   {object}  map[string]interface{}
// @Router       /mails [post]
func (h *Handler) SubmitMail(c *gin.Context) {
	var req SubmitMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	resp, err := h.Service.SubmitMail(c.Request.Context(), req, actorFrom(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// ListRepositories godoc
// @Summary      List mail repositories
// @Description  Get every repository holding mails with its size
// @Tags         repositories
// @Produce      json
// @Success      200  {array}   RepositoryInfo
// @Failure      500  {object}  map[string]interface{}
// @Router       /repositories [get]
func (h *Handler) ListRepositories(c *gin.Context) {
	infos, err := h.Service.ListRepositories(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, infos)
}

// ListMails godoc
// @Summary      List stored mails
// @Description  Get the newest mails of a repository
// @Tags         repositories
// @Produce      json
// @Param        name   path      string  true   "Repository name"
// @Param        limit  query     int     false  "Maximum number of mails"
// @Success      200  {array}   repository.Summary
// @Failure      500  {object}  map[string]interface{}
// @Router       /repositories/{name}/mails [get]
func (h *Handler) ListMails(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	mails, err := h.Service.ListMails(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, mails)
}

// GetMail godoc
// @Summary      Get a stored mail
// @Tags         repositories
// @Produce      json
// @Param        name  path      string  true  "Repository name"
// @Param        id    path      string  true  "Mail ID"
// @Success      200  {object}  MailDetail
// @Failure      404  {object}  map[string]interface{}
// @Router       /repositories/{name}/mails/{id} [get]
func (h *Handler) GetMail(c *gin.Context) {
	mail, err := h.Service.GetMail(c.Request.Context(), c.Param("name"), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, mail)
}

// DeleteMail godoc
// @Summary      Delete a stored mail
// @Tags         repositories
// @Param        name  path      string  true  "Repository name"
// @Param        id    path      string  true  "Mail ID"
// @Success      204
// @Failure      404  {object}  map[string]interface{}
// @Router       /repositories/{name}/mails/{id} [delete]
func (h *Handler) DeleteMail(c *gin.Context) {
	if err := h.Service.DeleteMail(c.Request.Context(), c.Param("name"), c.Param("id"), actorFrom(c)); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReprocessMail godoc
// @Summary      Reprocess a stored mail
// @Description  Resubmit a stored mail at a processor (root by default) and remove it from the repository
// @Tags         repositories
// @Accept       json
// @Produce      json
// @Param        name     path      string            true   "Repository name"
// @Param        id       path      string            true   "Mail ID"
// @Param        request  body      ReprocessRequest  false  "Target processor"
// @Success      202  {object}  SubmitMailResponse
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /repositories/{name}/mails/{id}/reprocess [post]
func (h *Handler) ReprocessMail(c *gin.Context) {
	var req ReprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
	}

	resp, err := h.Service.ReprocessMail(c.Request.Context(), c.Param("name"), c.Param("id"), req, actorFrom(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetAuditLogs godoc
// @Summary      Get audit logs
// @Description  Get management actions, newest first, optionally filtered by action
// @Tags         audit
// @Produce      json
// @Param        action  query     string  false  "Action (submit, delete, reprocess, reload)"
// @Param        limit   query     int     false  "Maximum number of entries"
// @Success      200  {array}   AuditLog
// @Failure      503  {object}  map[string]interface{}
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	logs, err := h.Service.GetAuditLogs(c.Request.Context(), c.Query("action"), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
