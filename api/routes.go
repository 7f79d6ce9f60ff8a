// Package api stellt die HTTP-Schnittstelle unter /v1/api bereit.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"drug-analytics/apperrors"
	"drug-analytics/models"
	"drug-analytics/notification"
	"drug-analytics/pagination"
	"drug-analytics/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Multipart-Overhead über der maximalen Dateigröße, bevor der Body abgeschnitten wird.
const multipartSlack = 1 << 20

// maxEventBytes begrenzt Webhook-Bodies.
const maxEventBytes = 1 << 20

// Uploads ist die synchrone Phase der Ingestion-Pipeline.
type Uploads interface {
	SubmitUpload(ctx context.Context, filename string, body io.Reader, declaredSize int64) (*services.SubmitResult, error)
}

// Statuses liefert den Upload-Status.
type Statuses interface {
	Get(ctx context.Context, uploadID string) (*models.UploadStatus, error)
}

// Drugs beantwortet Leseanfragen.
type Drugs interface {
	GetDrug(ctx context.Context, name string) (*models.DrugRecord, error)
	GetDrugHistory(ctx context.Context, name string) ([]models.DrugRecord, error)
	ListDrugs(ctx context.Context, limit int, token string) (*services.DrugPage, error)
}

// Deps bündelt alles, was der Router braucht.
type Deps struct {
	ServiceName    string
	ServiceVersion string
	MaxUploadBytes int64
	JWTSecret      string
	APISecretKey   string

	Uploads   Uploads
	Statuses  Statuses
	Drugs     Drugs
	Processor notification.BlobProcessor
	// Dispatch startet die asynchrone Phase im selben Prozess; nil, wenn Notifications
	// von außen kommen.
	Dispatch func(ctx context.Context, blobKey string)

	Log *zap.Logger
}

// NewRouter baut die gin-Engine mit allen Routen.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(d.Log))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1/api")
	setupHealthRoutes(v1, d)

	authed := v1.Group("", JWTAuth(d.JWTSecret))
	setupUploadRoutes(authed, d)
	setupDrugRoutes(authed, d)

	internal := v1.Group("/events", APIKeyAuth(d.APISecretKey))
	setupEventRoutes(internal, d)

	return router
}

func setupHealthRoutes(rg *gin.RouterGroup, d Deps) {
	rg.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": d.ServiceName,
			"version": d.ServiceVersion,
		})
	})
}

func setupUploadRoutes(rg *gin.RouterGroup, d Deps) {
	rg.POST("/uploads", func(c *gin.Context) {
		if c.Request.ContentLength > d.MaxUploadBytes+multipartSlack {
			respondError(c, d.Log, apperrors.ErrPayloadTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, d.MaxUploadBytes+multipartSlack)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(c, d.Log, apperrors.ErrPayloadTooLarge)
				return
			}
			respondError(c, d.Log, apperrors.NewValidationError("file", "multipart field 'file' is required"))
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, d.Log, apperrors.NewValidationError("file", "could not open uploaded file"))
			return
		}
		defer f.Close()

		res, err := d.Uploads.SubmitUpload(c.Request.Context(), fh.Filename, f, fh.Size)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		if d.Dispatch != nil {
			d.Dispatch(c.Request.Context(), res.BlobKey)
		}
		c.JSON(http.StatusAccepted, res)
	})

	rg.GET("/uploads/:upload_id", func(c *gin.Context) {
		// Upload-IDs sind immer UUIDs; alles andere kann nicht existieren.
		id, err := uuid.Parse(c.Param("upload_id"))
		if err != nil {
			respondError(c, d.Log, fmt.Errorf("upload %q: %w", c.Param("upload_id"), apperrors.ErrNotFound))
			return
		}
		s, err := d.Statuses.Get(c.Request.Context(), id.String())
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, s)
	})
}

func setupDrugRoutes(rg *gin.RouterGroup, d Deps) {
	rg.GET("/drugs", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				respondError(c, d.Log, apperrors.ValidationError{Field: "limit", Value: raw, Message: "must be an integer"})
				return
			}
			// Ohne limit gilt der Standardwert; ein explizites limit muss mindestens 1 sein.
			if n < 1 {
				respondError(c, d.Log, apperrors.ValidationError{Field: "limit", Value: raw, Message: fmt.Sprintf("must be between 1 and %d", pagination.MaxLimit)})
				return
			}
			limit = n
		}
		page, err := d.Drugs.ListDrugs(c.Request.Context(), limit, c.Query("next_token"))
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	rg.GET("/drugs/:drug_name", func(c *gin.Context) {
		rec, err := d.Drugs.GetDrug(c.Request.Context(), c.Param("drug_name"))
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	rg.GET("/drugs/:drug_name/history", func(c *gin.Context) {
		records, err := d.Drugs.GetDrugHistory(c.Request.Context(), c.Param("drug_name"))
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"drugs": records, "count": len(records)})
	})
}

// setupEventRoutes nimmt S3-kompatible Webhook-Notifications an. Ein 503 signalisiert
// dem Absender, das Event erneut zu schicken.
func setupEventRoutes(rg *gin.RouterGroup, d Deps) {
	rg.POST("/blob-created", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes))
		if err != nil {
			respondError(c, d.Log, apperrors.NewValidationError("body", "could not read event"))
			return
		}
		results, err := notification.HandleEvent(c.Request.Context(), d.Processor, body)
		if err != nil {
			respondError(c, d.Log, apperrors.NewValidationError("body", err.Error()))
			return
		}
		status := http.StatusOK
		if notification.NeedsRedelivery(results) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"results": results})
	})
}
