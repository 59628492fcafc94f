package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/handler"
	"github.com/noah-isme/campus-results-api/internal/middleware"
	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
)

// Handlers groups every HTTP handler mounted under the API prefix.
type Handlers struct {
	Results     *handler.ResultHandler
	Workflow    *handler.WorkflowHandler
	Ingestion   *handler.IngestionHandler
	Scales      *handler.GradingScaleHandler
	Transcripts *handler.TranscriptHandler
	Analytics   *handler.AnalyticsHandler
}

// Options carries the cross-cutting dependencies of the route table.
type Options struct {
	APIPrefix string
	Auth      *service.AuthService
	Logger    *zap.Logger
}

// Register mounts the results API on r.
func Register(r *gin.Engine, h Handlers, opts Options) {
	prefix := opts.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix)

	results := api.Group("/results")
	registerPublic(results, h)

	secured := results.Group("")
	secured.Use(middleware.JWT(opts.Auth), middleware.WithResponseMeta())

	staff := middleware.RequireStaff()
	manager := middleware.RequireManager()
	global := middleware.RequireRoles(models.GlobalRoles...)
	write := func(action string) gin.HandlerFunc {
		return middleware.Audit(opts.Logger, action)
	}

	// Ingestion and reads.
	secured.POST("", staff, write("result.create"), h.Results.Create)
	secured.POST("/bulk", staff, write("result.bulk_create"), h.Ingestion.Bulk)
	secured.POST("/upload-csv", staff, write("result.import"), h.Ingestion.UploadCSV)
	secured.GET("/export", staff, h.Ingestion.Export)
	secured.GET("", h.Results.List)
	secured.GET("/:id", h.Results.Get)
	secured.PUT("/:id", staff, write("result.update"), h.Results.Update)
	secured.DELETE("/:id", staff, write("result.delete"), h.Results.Delete)

	// Workflow.
	secured.POST("/:id/submit", staff, write("result.submit"), h.Workflow.Submit)
	secured.POST("/submit-batch", staff, write("result.submit_batch"), h.Workflow.SubmitBatch)
	secured.POST("/:id/return", manager, write("result.return"), h.Workflow.Return)
	secured.PATCH("/:id/publish", manager, write("result.publish"), h.Workflow.Publish)
	secured.PATCH("/publish-batch", manager, write("result.publish_batch"), h.Workflow.PublishBatch)
	secured.PATCH("/:id/archive", manager, write("result.archive"), h.Workflow.Archive)
	secured.PATCH("/lock-semester", manager, write("result.lock_semester"), h.Workflow.LockSemester)
	secured.PATCH("/audit/:id", global, write("result.audit_correction"), h.Workflow.AuditCorrection)

	// Analytics.
	secured.GET("/statistics/:classId", staff, h.Analytics.Statistics)
	secured.GET("/retake-list/:classId", staff, h.Analytics.RetakeList)
	secured.GET("/campus/overview", manager, h.Analytics.Overview)
	secured.GET("/transcript/:studentId", h.Analytics.Transcript)
	secured.GET("/analytics/system", global, h.Analytics.System)

	// Final transcripts.
	secured.GET("/final-transcripts/:id", h.Transcripts.ListForStudent)
	secured.POST("/final-transcripts/:id/validate", manager, write("transcript.validate"), h.Transcripts.Validate)
	secured.POST("/final-transcripts/:id/seal", manager, write("transcript.seal"), h.Transcripts.Seal)
	secured.GET("/final-transcripts/:id/signature-link", manager, h.Transcripts.SignatureLink)

	// Grading scales.
	secured.GET("/grading-scales", staff, h.Scales.List)
	secured.GET("/grading-scales/:id", staff, h.Scales.Get)
	secured.GET("/grading-scales/:id/evaluate", staff, h.Scales.Evaluate)
	secured.POST("/grading-scales", manager, write("grading_scale.create"), h.Scales.Create)
	secured.PATCH("/grading-scales/:id", manager, write("grading_scale.update"), h.Scales.Update)
}

// registerPublic mounts the unauthenticated verification and signature routes.
func registerPublic(results *gin.RouterGroup, h Handlers) {
	results.GET("/verify/:token", h.Analytics.Verify)
	results.GET("/final-transcripts/verify/:token", h.Transcripts.Verify)
	results.POST("/final-transcripts/:id/sign", h.Transcripts.Sign)
}

// RegisterOps mounts liveness, readiness and Prometheus endpoints at the root.
func RegisterOps(r *gin.Engine, metrics *handler.MetricsHandler) {
	r.GET("/health", metrics.Health)
	r.GET("/ready", metrics.Ready)
	r.GET("/metrics", metrics.Prometheus)
}
