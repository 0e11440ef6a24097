package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messhub/backend/config"
	"messhub/backend/internal/api/handler"
	"messhub/backend/internal/api/middleware"
	"messhub/backend/internal/model"
	"messhub/backend/pkg/jwt"
	"messhub/backend/pkg/redis"
)

// Setup builds the Gin engine.
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── global middleware ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimitBytes))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var (
		student      = middleware.RoleAuth(model.RoleStudent)
		staff        = middleware.RoleAuth(model.RoleManager, model.RoleAdmin)
		admin        = middleware.RoleAuth(model.RoleAdmin)
		writeLimited = middleware.RateLimit(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr))
	{
		attendance := v1.Group("/attendance")
		{
			attendance.POST("", student, writeLimited, h.Attendance.Mark)
			attendance.POST("/leave", student, writeLimited, h.Attendance.RegisterLeave)
			attendance.PUT("/cancel-leave/:id", writeLimited, h.Attendance.CancelLeave) // owner or staff, checked in service
			attendance.GET("/my", student, h.Attendance.ListMine)
			attendance.GET("/monthly/:month/:year", h.Attendance.Monthly)
			attendance.GET("/summary/:student_id/:month/:year", staff, h.Attendance.Summary)
			attendance.GET("/mess/:mess_id/:date", staff, h.Attendance.MessSnapshot)
			attendance.GET("/:id", h.Attendance.Get)
			attendance.PUT("/:id", staff, writeLimited, h.Attendance.Correct)
			attendance.DELETE("/:id", admin, h.Attendance.Delete)
		}

		bills := v1.Group("/bills")
		{
			bills.GET("/my", student, h.Bill.ListMine)
			bills.GET("/mess/:mess_id", staff, h.Bill.ListMess)
			bills.GET("/unpaid/:mess_id", staff, h.Bill.ListUnpaid)
			bills.GET("/overdue/:mess_id", staff, h.Bill.ListOverdue)
			bills.POST("/settle", student, writeLimited, h.Bill.Settle)
			bills.POST("/generate", admin, h.Bill.Generate)
			bills.POST("/generate-all", admin, h.Bill.BulkGenerate)
			bills.POST("/apply-late-fees", admin, h.Bill.ApplyLateFees)
			bills.GET("/:id", h.Bill.Get)
			bills.POST("/:id/payment", staff, writeLimited, h.Bill.AddPayment)
			bills.PUT("/:id/discount", admin, h.Bill.ApplyDiscount)
			bills.PUT("/:id/late-fee", admin, h.Bill.ApplyLateFee)
			bills.PUT("/:id/adjustment", admin, h.Bill.ApplyAdjustment)
			bills.PUT("/:id/cancel", admin, h.Bill.Cancel)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.POST("/auto-presence", admin, h.Job.RunAutoPresence)
		}
	}

	return r
}
