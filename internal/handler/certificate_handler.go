package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ultima-training/ultima-api/internal/service"
	"github.com/ultima-training/ultima-api/pkg/response"
)

// CertificateHandler exposes certificate retrieval, download and public
// verification endpoints.
type CertificateHandler struct {
	certificates *service.CertificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(certificates *service.CertificateService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

// Get godoc
// @Summary Get the certificate for an enrollment
// @Tags Certificates
// @Produce json
// @Param enrollmentId path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{enrollmentId} [get]
func (h *CertificateHandler) Get(c *gin.Context) {
	cert, err := h.certificates.Get(c.Request.Context(), actorFromContext(c), c.Param("enrollmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// DownloadToken godoc
// @Summary Mint a signed download link for a certificate PDF
// @Tags Certificates
// @Produce json
// @Param enrollmentId path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{enrollmentId}/download [get]
func (h *CertificateHandler) DownloadToken(c *gin.Context) {
	token, expiresAt, err := h.certificates.DownloadToken(c.Request.Context(), actorFromContext(c), c.Param("enrollmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"token": token, "expires_at": expiresAt}, nil)
}

// Download godoc
// @Summary Download a certificate PDF with a signed token
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Router /certificates/download [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	file, err := h.certificates.OpenByToken(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="certificate.pdf"`)
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, nil)
}

// Verify godoc
// @Summary Verify a certificate by its public number
// @Tags Certificates
// @Produce json
// @Param number path string true "Certificate number"
// @Success 200 {object} response.Envelope
// @Router /certificates/verify/{number} [get]
func (h *CertificateHandler) Verify(c *gin.Context) {
	v, err := h.certificates.Verify(c.Request.Context(), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, v, nil)
}
