package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"cashdrawer/internal/apierror"
	"cashdrawer/internal/dto"
	"cashdrawer/internal/infra"
	"cashdrawer/internal/ledger"
	"cashdrawer/internal/repository"
	"cashdrawer/internal/service"

	"github.com/gin-gonic/gin"
)

// IdempotencyHeader carries the client-generated key of a movement write.
const IdempotencyHeader = "Idempotency-Key"

type CashHandler struct{ svc service.CashService }

func NewCashHandler(svc service.CashService) *CashHandler { return &CashHandler{svc: svc} }

// Open godoc
// @Summary Abre una nueva sesion de caja
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenSessionRequest true "Monto inicial"
// @Success 201 {object} ledger.Session
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash/sessions [post]
func (h *CashHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.OpenSession(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Active returns the organization's OPEN session, or 404 when there is none.
func (h *CashHandler) Active(c *gin.Context) {
	resp, err := h.svc.GetActive(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, apierror.WithCode(ledger.Code(ledger.ErrNoOpenSession), ledger.ErrNoOpenSession.Error()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// History returns a paginated list of the organization's sessions, newest first.
func (h *CashHandler) History(c *gin.Context) {
	page, limit := pageParams(c, ledger.DefaultPageSize)
	resp, err := h.svc.History(c.Request.Context(), actor(c), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CashHandler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	resp, err := h.svc.GetSession(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Close godoc
// @Summary Cierra la sesion con el monto contado
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Param body body dto.CloseSessionRequest true "Monto de cierre"
// @Success 200 {object} dto.CloseSessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cash/sessions/{id}/close [post]
func (h *CashHandler) Close(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req dto.CloseSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CloseSession(c.Request.Context(), actor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type cancelRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=500"`
}

func (h *CashHandler) Cancel(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CancelSession(c.Request.Context(), actor(c), id, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CashHandler) Summary(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	resp, err := h.svc.Summary(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Movements lists a session's movements, filtered and paginated.
// Without page or limit the whole filtered list comes back as a single page.
func (h *CashHandler) Movements(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	who := actor(c)
	filter, err := ParseFilter(c.Query, who.UserID)
	if err != nil {
		if ledger.Code(err) != "" {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, apierror.WithCode(apierror.CodeBadRequest, err.Error()))
		return
	}

	var q repository.MovementQuery
	if filter.Type != "" {
		t := string(filter.Type)
		q.Type = &t
	}
	q.From = filter.From

	movs, err := h.svc.ListMovements(c.Request.Context(), who, id, q)
	if err != nil {
		respondError(c, err)
		return
	}

	filtered := ledger.ApplyFilter(movs, filter)
	var resp dto.MovementListResponse
	if c.Query("page") == "" && c.Query("limit") == "" {
		resp = ledger.Paginate(filtered, 1, max(len(filtered), 1))
	} else {
		page, limit := pageParams(c, ledger.DefaultPageSize)
		resp = ledger.Paginate(filtered, page, limit)
	}
	c.JSON(http.StatusOK, resp)
}

// RegisterMovement godoc
// @Summary Registra un movimiento de caja
// @Tags cash
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Param Idempotency-Key header string false "Clave de idempotencia"
// @Param body body dto.CreateMovementRequest true "Movimiento"
// @Success 201 {object} dto.MovementResponse
// @Success 200 {object} dto.MovementResponse "repetido"
// @Failure 400 {object} apierror.APIError
// @Router /v1/cash/sessions/{id}/movements [post]
func (h *CashHandler) RegisterMovement(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req dto.CreateMovementRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RegisterMovement(c.Request.Context(), actor(c), id, c.GetHeader(IdempotencyHeader), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// Report serves the close report PDF once the worker has rendered it.
func (h *CashHandler) Report(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	path, err := h.svc.ReportPath(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, service.ReportFileName(id))
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Export returns every movement of the session as an XLSX workbook.
func (h *CashHandler) Export(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	who := actor(c)
	sess, err := h.svc.GetSession(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err)
		return
	}
	movs, err := h.svc.ListMovements(c.Request.Context(), who, id, repository.MovementQuery{})
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := infra.WriteMovementsXLSX(&buf, *sess, movs, time.Local); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, infra.ExportFileName(*sess)))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
