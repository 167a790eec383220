package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventreg-api/internal/dto"
	"github.com/noah-isme/eventreg-api/internal/models"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
	"github.com/noah-isme/eventreg-api/pkg/response"
)

type reviewService interface {
	List(ctx context.Context) ([]dto.RegistrationResponse, error)
	ExportCSV(ctx context.Context) ([]byte, error)
	Approve(ctx context.Context, id string, actor *models.Actor) (*models.Registration, error)
	Reject(ctx context.Context, id string, actor *models.Actor) (*models.Registration, error)
}

type confirmationService interface {
	Resend(ctx context.Context, registrationID string, actor *models.Actor) error
	Verify(ctx context.Context, code string) (*dto.VerifyConfirmationResponse, error)
}

// AdminHandler serves the review console endpoints.
type AdminHandler struct {
	registrations reviewService
	confirmations confirmationService
}

// NewAdminHandler creates a new handler.
func NewAdminHandler(registrations reviewService, confirmations confirmationService) *AdminHandler {
	return &AdminHandler{registrations: registrations, confirmations: confirmations}
}

// ListRegistrations godoc
// @Summary List registrations with payments
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} dto.RegistrationResponse
// @Failure 401 {object} response.ErrorBody
// @Router /api/admin/registrations [get]
func (h *AdminHandler) ListRegistrations(c *gin.Context) {
	items, err := h.registrations.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}

// ExportRegistrations godoc
// @Summary Export registrations as CSV
// @Tags Admin
// @Produce text/csv
// @Security BearerAuth
// @Success 200 {file} binary
// @Router /api/admin/registrations/export [get]
func (h *AdminHandler) ExportRegistrations(c *gin.Context) {
	content, err := h.registrations.ExportCSV(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := "registrations-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", content)
}

// Approve godoc
// @Summary Approve a registration and email its confirmation
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Registration ID"
// @Success 200 {object} response.MessageBody
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Failure 500 {object} response.ErrorBody
// @Router /api/admin/approve/{id} [post]
func (h *AdminHandler) Approve(c *gin.Context) {
	reg, err := h.registrations.Approve(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		if reg != nil && errors.Is(err, appErrors.ErrConfirmationDelivery) {
			appErr := appErrors.FromError(err)
			_ = c.Error(err)
			response.JSON(c, appErr.Status, gin.H{
				"message":            appErr.Message,
				"code":               appErr.Code,
				"registrationId":     reg.ID,
				"status":             reg.State(),
				"confirmationStatus": reg.ConfirmationStatus,
			})
			return
		}
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Registration approved and confirmation email sent", gin.H{"registrationId": reg.ID})
}

// Reject godoc
// @Summary Reject a registration
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Registration ID"
// @Success 200 {object} response.MessageBody
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Router /api/admin/reject/{id} [post]
func (h *AdminHandler) Reject(c *gin.Context) {
	reg, err := h.registrations.Reject(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Registration rejected", gin.H{"registrationId": reg.ID})
}

// ResendConfirmation godoc
// @Summary Resend the confirmation email
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Registration ID"
// @Success 200 {object} response.MessageBody
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Failure 500 {object} response.ErrorBody
// @Router /api/admin/registrations/{id}/resend-confirmation [post]
func (h *AdminHandler) ResendConfirmation(c *gin.Context) {
	if err := h.confirmations.Resend(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Confirmation email sent")
}

// VerifyConfirmation godoc
// @Summary Verify a scanned confirmation code
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.VerifyConfirmationRequest true "Scanned code"
// @Success 200 {object} dto.VerifyConfirmationResponse
// @Failure 400 {object} response.ErrorBody
// @Router /api/admin/confirmations/verify [post]
func (h *AdminHandler) VerifyConfirmation(c *gin.Context) {
	var req dto.VerifyConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "code is required"))
		return
	}
	result, err := h.confirmations.Verify(c.Request.Context(), req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
