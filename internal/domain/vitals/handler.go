package vitals

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/healthrecords/internal/platform/blobstore"
	"github.com/ehr/healthrecords/internal/platform/extract"
	"github.com/ehr/healthrecords/internal/platform/vault"
	"github.com/ehr/healthrecords/pkg/pagination"
)

// HeaderUserID carries the authenticated user, set by the gateway in front
// of this service.
const HeaderUserID = "X-User-ID"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients/:patientId/records", h.UploadRecord)
	api.GET("/patients/:patientId/records", h.ListRecords)
	api.GET("/patients/:patientId/analysis", h.AnalyzePatient)
	api.GET("/records/:id/file", h.DownloadRecordFile)
	api.POST("/extract", h.ExtractReadings)
}

func actorFrom(c echo.Context) Actor {
	return Actor{
		UserID:    c.Request().Header.Get(HeaderUserID),
		IPAddress: c.RealIP(),
	}
}

func (h *Handler) UploadRecord(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return formFileError(err)
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	recordType := c.FormValue("record_type")
	if recordType == "" {
		recordType = "general"
	}

	res, err := h.svc.UploadRecord(c.Request().Context(), UploadRequest{
		PatientID:  patientID,
		RecordType: recordType,
		FileName:   file.Filename,
		Content:    src,
		Actor:      actorFrom(c),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListRecords(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRecords(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) AnalyzePatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	analysis, err := h.svc.AnalyzePatient(c.Request().Context(), patientID, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, analysis)
}

func (h *Handler) DownloadRecordFile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, content, err := h.svc.RecordFile(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(rec.FileName))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName}))
	return c.Blob(http.StatusOK, contentType, content)
}

// ExtractReadings parses an uploaded document without storing anything.
func (h *Handler) ExtractReadings(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return formFileError(err)
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, h.svc.maxUpload+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}
	if int64(len(content)) > h.svc.maxUpload {
		return httpError(ErrFileTooLarge)
	}

	bundle, err := h.svc.ProcessDocument(c.Request().Context(), content, filepath.Ext(file.Filename))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bundle)
}

func formFileError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, "file is required")
}

// httpError maps service errors to responses. Crypto failures never echo
// their cause to the client.
func httpError(err error) error {
	var (
		he     *echo.HTTPError
		encErr *vault.EncryptionError
		decErr *vault.DecryptionError
	)
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, extract.ErrUnsupportedExtension):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported file type, allowed: pdf, png, jpg, jpeg")
	case errors.Is(err, ErrMissingPatient), errors.Is(err, ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrFileTooLarge), errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	case errors.As(err, &encErr):
		return echo.NewHTTPError(http.StatusInternalServerError, "encryption failed").SetInternal(err)
	case errors.As(err, &decErr):
		return echo.NewHTTPError(http.StatusInternalServerError, "stored data could not be decrypted").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
