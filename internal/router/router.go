// internal/router/router.go
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/handlers"
	"github.com/javajoker/popup-portal/internal/metrics"
	"github.com/javajoker/popup-portal/internal/middleware"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

// Dependencies are the outside-world collaborators. Mailer, Provider and Verifier
// default to the configured implementations when nil; Redis may be nil.
type Dependencies struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Config   *config.Config
	Logger   logrus.FieldLogger
	Mailer   services.Mailer
	Provider services.PaymentProvider
	Verifier services.EventVerifier
}

type Services struct {
	Policies      *services.PolicyService
	Applications  *services.ApplicationService
	FeePayments   *services.FeePaymentService
	Notifications *services.NotificationService
	Webhooks      *services.WebhookService
	AppKeys       *services.AppKeyService
}

func NewServices(deps Dependencies) (*Services, error) {
	cfg := deps.Config
	log := deps.Logger

	mailer := deps.Mailer
	if mailer == nil {
		var err error
		if mailer, err = services.NewMailer(cfg, log); err != nil {
			return nil, err
		}
	}

	provider := deps.Provider
	if provider == nil {
		provider = services.NewStripeProvider(cfg)
	}

	var cache services.FingerprintCache
	if deps.Redis != nil {
		cache = services.NewRedisFingerprintCache(deps.Redis, cfg.Webhook.FingerprintTTL)
	}

	policies := services.NewPolicyService(deps.DB, services.FieldDiscountEvaluator{}, cfg.Payment.DefaultCurrency)
	notifications := services.NewNotificationService(deps.DB, cfg, mailer, log)
	applications := services.NewApplicationService(deps.DB, policies, notifications, log)
	feePayments := services.NewFeePaymentService(deps.DB, cfg, policies, applications, notifications, provider, log)

	return &Services{
		Policies:      policies,
		Applications:  applications,
		FeePayments:   feePayments,
		Notifications: notifications,
		Webhooks:      services.NewWebhookService(feePayments, cache, log),
		AppKeys:       services.NewAppKeyService(deps.DB, log),
	}, nil
}

func Initialize(deps Dependencies) (*gin.Engine, *Services, error) {
	cfg := deps.Config
	log := deps.Logger

	svc, err := NewServices(deps)
	if err != nil {
		return nil, nil, err
	}

	verifier := deps.Verifier
	if verifier == nil {
		verifier = services.NewStripeEventVerifier(cfg.Payment.StripeWebhookSecret)
	}

	// Initialize handlers
	applicationHandler := handlers.NewApplicationHandler(svc.Applications, log)
	feePaymentHandler := handlers.NewFeePaymentHandler(svc.FeePayments, log)
	reviewHandler := handlers.NewReviewHandler(svc.Applications, log)
	popupHandler := handlers.NewPopupHandler(svc.Policies, log)
	webhookHandler := handlers.NewWebhookHandler(verifier, svc.Webhooks, log)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))
	if !cfg.IsTest() {
		r.Use(middleware.GeneralRateLimit())
	}
	r.Use(middleware.AuditLogMiddleware(deps.DB, log))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", metrics.Handler())

	r.POST("/webhooks/stripe", webhookHandler.StripeWebhook)

	v1 := r.Group("/v1")
	{
		v1.GET("/popups/:id/policy", popupHandler.GetPolicy)

		applications := v1.Group("/applications")
		applications.Use(middleware.AuthRequired())
		{
			applications.POST("", applicationHandler.CreateApplication)
			applications.GET("", applicationHandler.ListMyApplications)
			applications.GET("/:id", applicationHandler.GetApplication)
			applications.PUT("/:id", applicationHandler.UpdateApplication)
			applications.POST("/:id/submit", applicationHandler.SubmitApplication)

			checkout := []gin.HandlerFunc{feePaymentHandler.CreateFeePayment}
			if !cfg.IsTest() {
				checkout = append([]gin.HandlerFunc{middleware.CheckoutRateLimit()}, checkout...)
			}
			applications.POST("/:id/fee-payments", checkout...)
			applications.GET("/:id/fee-payments", feePaymentHandler.ListFeePayments)
		}

		feePayments := v1.Group("/fee-payments")
		feePayments.Use(middleware.AuthRequired())
		{
			feePayments.GET("/:id", feePaymentHandler.GetFeePayment)
			feePayments.POST("/:id/cancel", feePaymentHandler.CancelFeePayment)
		}

		reviews := v1.Group("/reviews")
		reviews.Use(middleware.ReviewerRequired(svc.AppKeys, log))
		{
			reviews.GET("/applications", reviewHandler.ListApplications)
			reviews.GET("/applications/:id", reviewHandler.GetApplication)
			reviews.POST("/applications/:id", reviewHandler.ReviewApplication)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/popups", popupHandler.CreatePopup)
			admin.PUT("/popups/:id/fee", popupHandler.SetApplicationFee)
		}
	}

	return r, svc, nil
}
