package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventreg-api/internal/dto"
	"github.com/noah-isme/eventreg-api/internal/middleware"
	"github.com/noah-isme/eventreg-api/internal/models"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
	"github.com/noah-isme/eventreg-api/pkg/response"
)

type authService interface {
	Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error)
	RegisterAdmin(ctx context.Context, req dto.RegisterAdminRequest, actor *models.Actor) (*dto.AdminResponse, error)
	Me(ctx context.Context, adminID string) (*dto.AdminResponse, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service             authService
	registrationEnabled bool
}

// NewAuthHandler creates a new handler. registrationEnabled gates Register.
func NewAuthHandler(svc authService, registrationEnabled bool) *AuthHandler {
	return &AuthHandler{service: svc, registrationEnabled: registrationEnabled}
}

// Login godoc
// @Summary Authenticate an admin
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body dto.LoginRequest true "Login payload"
// @Success 200 {object} dto.LoginResponse
// @Failure 400 {object} response.ErrorBody
// @Router /api/admin/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Register godoc
// @Summary Create an admin account
// @Description Only available when ADMIN_REGISTRATION_ENABLED is true.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body dto.RegisterAdminRequest true "Admin credentials"
// @Success 201 {object} map[string]string
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Failure 409 {object} response.ErrorBody
// @Router /api/admin/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	if !h.registrationEnabled {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "admin registration is disabled"))
		return
	}
	var req dto.RegisterAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	admin, err := h.service.RegisterAdmin(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "Admin registered successfully", gin.H{"adminId": admin.ID})
}

// Me godoc
// @Summary Current admin
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.AdminResponse
// @Failure 401 {object} response.ErrorBody
// @Router /api/admin/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	me, err := h.service.Me(c.Request.Context(), claims.AdminID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, me)
}
