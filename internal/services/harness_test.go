// internal/services/harness_test.go
package services_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/testutil"
)

// lifecycleSuite wires the real services over an in-memory database with a fake
// payment provider and a recording mailer.
type lifecycleSuite struct {
	suite.Suite

	ctx      context.Context
	db       *gorm.DB
	cfg      *config.Config
	log      *logrus.Logger
	logs     *test.Hook
	provider *testutil.FakeProvider
	mailer   *testutil.RecordingMailer

	policies      *services.PolicyService
	applications  *services.ApplicationService
	feePayments   *services.FeePaymentService
	notifications *services.NotificationService
}

func (s *lifecycleSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testutil.NewDB(s.T())
	s.cfg = testutil.Config()
	s.log, s.logs = test.NewNullLogger()
	s.log.SetLevel(logrus.DebugLevel)
	s.provider = &testutil.FakeProvider{}
	s.mailer = &testutil.RecordingMailer{}

	s.policies = services.NewPolicyService(s.db, services.FieldDiscountEvaluator{}, "usd")
	s.notifications = services.NewNotificationService(s.db, s.cfg, s.mailer, s.log)
	s.applications = services.NewApplicationService(s.db, s.policies, s.notifications, s.log)
	s.feePayments = services.NewFeePaymentService(s.db, s.cfg, s.policies, s.applications, s.notifications, s.provider, s.log)
}

func (s *lifecycleSuite) TearDownTest() {
	s.notifications.Wait()
}

func (s *lifecycleSuite) popup(opts testutil.PopupOptions) *models.Popup {
	return testutil.CreatePopup(s.T(), s.db, opts)
}

func (s *lifecycleSuite) draft(popupID, humanID uuid.UUID) *models.Application {
	application, err := s.applications.CreateApplication(s.ctx, humanID, &services.CreateApplicationRequest{
		PopupID:   popupID,
		Email:     "applicant@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Data:      map[string]interface{}{"bio": "builder"},
	})
	s.Require().NoError(err)
	s.Require().Equal(models.ApplicationStatusDraft, application.Status)
	return application
}

func (s *lifecycleSuite) reload(id uuid.UUID) *models.Application {
	var application models.Application
	s.Require().NoError(s.db.First(&application, "id = ?", id).Error)
	return &application
}

func (s *lifecycleSuite) payment(id uuid.UUID) *models.FeePayment {
	var payment models.FeePayment
	s.Require().NoError(s.db.First(&payment, "id = ?", id).Error)
	return &payment
}

func (s *lifecycleSuite) approve(ref string) services.DecisionOutcome {
	outcome, err := s.feePayments.RecordProviderDecision(s.ctx, ref, services.DecisionApproved, time.Now())
	s.Require().NoError(err)
	return outcome
}

func (s *lifecycleSuite) requireKind(err error, kind services.ErrorKind) {
	s.Require().Error(err)
	s.Equal(kind, services.KindOf(err), err.Error())
}
