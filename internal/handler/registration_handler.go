package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventreg-api/internal/dto"
	"github.com/noah-isme/eventreg-api/internal/models"
	"github.com/noah-isme/eventreg-api/internal/service"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
	"github.com/noah-isme/eventreg-api/pkg/response"
)

type publicRegistrationService interface {
	Submit(ctx context.Context, req dto.SubmitRegistrationRequest) (*models.Registration, error)
	AttachPayment(ctx context.Context, req dto.AttachPaymentRequest, upload *service.ScreenshotUpload) (*models.Payment, error)
	Screenshot(ctx context.Context, paymentID string) (*service.ScreenshotFile, error)
}

// RegistrationHandler serves the public student endpoints.
type RegistrationHandler struct {
	service publicRegistrationService
}

// NewRegistrationHandler creates a new handler.
func NewRegistrationHandler(svc publicRegistrationService) *RegistrationHandler {
	return &RegistrationHandler{service: svc}
}

// Register godoc
// @Summary Submit a registration
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRegistrationRequest true "Registration"
// @Success 201 {object} map[string]string
// @Failure 400 {object} response.ErrorBody
// @Router /register [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req dto.SubmitRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	reg, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "Registration successful", gin.H{"registrationId": reg.ID})
}

// AttachPayment godoc
// @Summary Upload payment proof
// @Tags Registrations
// @Accept multipart/form-data
// @Produce json
// @Param registrationId formData string true "Registration ID"
// @Param utrNumber formData string true "UTR number"
// @Param screenshot formData file true "Payment screenshot"
// @Success 200 {object} map[string]string
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Failure 409 {object} response.ErrorBody
// @Router /payment [post]
func (h *RegistrationHandler) AttachPayment(c *gin.Context) {
	var req dto.AttachPaymentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	fileHeader, err := c.FormFile("screenshot")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "no file uploaded"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	reader, ok := src.(io.ReadSeeker)
	if !ok {
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Internal(readErr, "failed to buffer file"))
			return
		}
		reader = bytes.NewReader(buf)
	}

	payment, err := h.service.AttachPayment(c.Request.Context(), req, &service.ScreenshotUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  reader,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "Payment details submitted successfully", gin.H{"paymentId": payment.ID})
}

// Screenshot godoc
// @Summary Download a payment screenshot
// @Tags Registrations
// @Produce octet-stream
// @Param id path string true "Payment ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.ErrorBody
// @Router /payment/{id}/screenshot [get]
func (h *RegistrationHandler) Screenshot(c *gin.Context) {
	file, err := h.service.Screenshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.File.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.Filename))
	c.Header("Cache-Control", "private, max-age=300")
	c.Header("X-Content-Type-Options", "nosniff")
	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, file.File, nil)
}
