package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prepmed/billing/internal/app/service/eventlog"
	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/internal/platform/identity"
	"github.com/prepmed/billing/internal/platform/notify"
	"github.com/prepmed/billing/internal/provider"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.UserSubscription{},
		&models.UserAccessFlag{},
		&models.SubscriptionLog{},
		&models.WebhookEventLog{},
	))
	return db
}

// fakeAdapter is a scripted payment adapter.
type fakeAdapter struct {
	kind          types.ProviderKind
	customerErr   error
	checkout      *provider.CheckoutResult
	checkoutErr   error
	activateEvent *provider.Event
	activateErr   error
	webhookEvent  *provider.Event
	webhookErr    error
}

func (f *fakeAdapter) Kind() types.ProviderKind { return f.kind }

func (f *fakeAdapter) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	if f.customerErr != nil {
		return "", f.customerErr
	}
	return "cust_" + userID, nil
}

func (f *fakeAdapter) StartSubscription(ctx context.Context, req *provider.StartSubscriptionRequest) (*provider.CheckoutResult, error) {
	return f.checkout, f.checkoutErr
}

func (f *fakeAdapter) Activate(ctx context.Context, providerSubscriptionID string) (*provider.Event, error) {
	return f.activateEvent, f.activateErr
}

func (f *fakeAdapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	return nil
}

func (f *fakeAdapter) ParseWebhook(ctx context.Context, body []byte, signature string) (*provider.Event, error) {
	return f.webhookEvent, f.webhookErr
}

type fakeResolver struct {
	adapters map[types.ProviderKind]provider.Adapter
}

func (r *fakeResolver) Get(kind types.ProviderKind) (provider.Adapter, error) {
	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", apperr.ErrValidation, kind)
	}
	return adapter, nil
}

// fakeDirectory records account creations and rollbacks.
type fakeDirectory struct {
	nextID    int
	created   []string
	deleted   []string
	createErr error
}

func (d *fakeDirectory) CreateUser(ctx context.Context, email, name, password string) (*identity.User, error) {
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.nextID++
	id := fmt.Sprintf("u-%d", d.nextID)
	d.created = append(d.created, id)
	return &identity.User{ID: id, Email: email, Name: name}, nil
}

func (d *fakeDirectory) DeleteUser(ctx context.Context, userID string) error {
	d.deleted = append(d.deleted, userID)
	return nil
}

func (d *fakeDirectory) GetUser(ctx context.Context, userID string) (*identity.User, error) {
	return &identity.User{ID: userID}, nil
}

func testEvent(kind provider.EventKind, userID, subID string) *provider.Event {
	now := time.Now()
	return &provider.Event{
		Kind:                   kind,
		Provider:               types.ProviderKindStripe,
		UserID:                 userID,
		TierID:                 "tier_quarterly",
		ProviderSubscriptionID: subID,
		ProviderCustomerID:     "cust_" + userID,
		ProviderStatus:         "active",
		PeriodStart:            now,
		PeriodEnd:              now.AddDate(0, 3, 0),
		PeriodSource:           provider.PeriodSourceProvider,
	}
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	directory *fakeDirectory
	adapter   *fakeAdapter
}

func newFixture(t *testing.T, adapter *fakeAdapter) *fixture {
	t.Helper()
	cfg := &config.Config{
		Tiers: []*types.SubscriptionTier{
			{ID: "tier_quarterly", DurationMonths: 3, StripePriceID: "price_q", RazorpayPlanID: "plan_q"},
		},
	}
	log := zap.NewNop().Sugar()
	db := newTestDB(t)
	directory := &fakeDirectory{}
	svc := NewService(
		cfg,
		log,
		ledger.NewService(cfg, db, log),
		&fakeResolver{adapters: map[types.ProviderKind]provider.Adapter{adapter.kind: adapter}},
		directory,
		notify.NopNotifier{},
		eventlog.New(db, log),
	)
	return &fixture{svc: svc, db: db, directory: directory, adapter: adapter}
}

func signupRequest() *SignupRequest {
	return &SignupRequest{
		Email:           "student@example.com",
		Name:            "Student",
		Password:        "hunter2hunter2",
		TierID:          "tier_quarterly",
		Provider:        types.ProviderKindStripe,
		PaymentMethodID: "pm_1",
	}
}

func TestSignupCheckout_Confirmed(t *testing.T) {
	f := newFixture(t, &fakeAdapter{
		kind: types.ProviderKindStripe,
		checkout: &provider.CheckoutResult{
			Status:                 provider.CheckoutStatusConfirmed,
			ProviderSubscriptionID: "sub_1",
			Event:                  testEvent(provider.EventKindActivated, "u-1", "sub_1"),
		},
	})

	result, err := f.svc.SignupCheckout(context.Background(), signupRequest())
	require.NoError(t, err)
	assert.Equal(t, provider.CheckoutStatusConfirmed, result.Status)
	require.NotNil(t, result.Subscription)
	assert.Equal(t, types.SubscriptionStatusActive, result.Subscription.Status)
	assert.Empty(t, f.directory.deleted)
}

func TestSignupCheckout_PaymentFailedRollsBackAccount(t *testing.T) {
	f := newFixture(t, &fakeAdapter{
		kind:     types.ProviderKindStripe,
		checkout: &provider.CheckoutResult{Status: provider.CheckoutStatusFailed},
	})

	_, err := f.svc.SignupCheckout(context.Background(), signupRequest())
	assert.True(t, errors.Is(err, apperr.ErrProvider))
	assert.Equal(t, f.directory.created, f.directory.deleted)
}

func TestSignupCheckout_CustomerCreationFailureRollsBack(t *testing.T) {
	f := newFixture(t, &fakeAdapter{
		kind:        types.ProviderKindStripe,
		customerErr: fmt.Errorf("%w: boom", apperr.ErrProvider),
	})

	_, err := f.svc.SignupCheckout(context.Background(), signupRequest())
	assert.True(t, errors.Is(err, apperr.ErrProvider))
	assert.Equal(t, f.directory.created, f.directory.deleted)
}

func TestSignupCheckout_RequiresActionKeepsAccount(t *testing.T) {
	f := newFixture(t, &fakeAdapter{
		kind: types.ProviderKindStripe,
		checkout: &provider.CheckoutResult{
			Status:                 provider.CheckoutStatusRequiresAction,
			ProviderSubscriptionID: "sub_1",
			ContinuationToken:      "pi_secret",
		},
	})

	result, err := f.svc.SignupCheckout(context.Background(), signupRequest())
	require.NoError(t, err)
	assert.Equal(t, provider.CheckoutStatusRequiresAction, result.Status)
	assert.Equal(t, "pi_secret", result.ContinuationToken)
	assert.Empty(t, f.directory.deleted)
	assert.Nil(t, result.Subscription)
}

func TestSignupCheckout_ConfirmedButLedgerFailureIsReconciliationGap(t *testing.T) {
	// Payment confirmed, but the event is unusable so the ledger write fails.
	badEvent := testEvent(provider.EventKindActivated, "u-1", "sub_1")
	badEvent.PeriodEnd = time.Time{}
	f := newFixture(t, &fakeAdapter{
		kind: types.ProviderKindStripe,
		checkout: &provider.CheckoutResult{
			Status:                 provider.CheckoutStatusConfirmed,
			ProviderSubscriptionID: "sub_1",
			Event:                  badEvent,
		},
	})

	_, err := f.svc.SignupCheckout(context.Background(), signupRequest())
	assert.True(t, errors.Is(err, apperr.ErrReconciliationGap))
	// The account stays for support to reconcile.
	assert.Empty(t, f.directory.deleted)
}

func TestSignupCheckout_UnknownTier(t *testing.T) {
	f := newFixture(t, &fakeAdapter{kind: types.ProviderKindStripe})
	req := signupRequest()
	req.TierID = "tier_nope"
	_, err := f.svc.SignupCheckout(context.Background(), req)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Empty(t, f.directory.created)
}

func TestActivateCheckout(t *testing.T) {
	f := newFixture(t, &fakeAdapter{
		kind:          types.ProviderKindStripe,
		activateEvent: testEvent(provider.EventKindActivated, "u-9", "sub_9"),
	})

	sub, err := f.svc.ActivateCheckout(context.Background(), &ActivateRequest{
		Provider:               types.ProviderKindStripe,
		ProviderSubscriptionID: "sub_9",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "u-9", sub.UserID)
}

func TestHandleWebhook_SignatureRejected(t *testing.T) {
	f := newFixture(t, &fakeAdapter{
		kind:       types.ProviderKindStripe,
		webhookErr: fmt.Errorf("%w: bad signature", apperr.ErrAuthenticity),
	})

	err := f.svc.HandleWebhook(context.Background(), types.ProviderKindStripe, []byte(`{}`), "sig", "trace-1")
	assert.True(t, errors.Is(err, apperr.ErrAuthenticity))

	var entry models.WebhookEventLog
	require.NoError(t, f.db.First(&entry).Error)
	assert.Equal(t, models.WebhookEventLogStatusRejected, entry.Status)
}

func TestHandleWebhook_IgnoredEventKind(t *testing.T) {
	f := newFixture(t, &fakeAdapter{kind: types.ProviderKindStripe})

	err := f.svc.HandleWebhook(context.Background(), types.ProviderKindStripe, []byte(`{}`), "sig", "trace-1")
	require.NoError(t, err)
}

func TestHandleWebhook_RenewalAfterSyncConfirmation(t *testing.T) {
	confirmEvent := testEvent(provider.EventKindActivated, "u-1", "sub_1")
	renewEvent := testEvent(provider.EventKindRenewed, "u-1", "sub_1")
	renewEvent.PeriodStart = confirmEvent.PeriodEnd
	renewEvent.PeriodEnd = confirmEvent.PeriodEnd.AddDate(0, 3, 0)

	f := newFixture(t, &fakeAdapter{
		kind: types.ProviderKindStripe,
		checkout: &provider.CheckoutResult{
			Status:                 provider.CheckoutStatusConfirmed,
			ProviderSubscriptionID: "sub_1",
			Event:                  confirmEvent,
		},
		webhookEvent: renewEvent,
	})

	result, err := f.svc.SignupCheckout(context.Background(), signupRequest())
	require.NoError(t, err)

	err = f.svc.HandleWebhook(context.Background(), types.ProviderKindStripe, []byte(`{}`), "sig", "trace-1")
	require.NoError(t, err)

	var count int64
	require.NoError(t, f.db.Model(&models.UserSubscription{}).Where("user_id = ?", result.UserID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var row models.UserSubscription
	require.NoError(t, f.db.Where("user_id = ?", result.UserID).First(&row).Error)
	assert.True(t, row.EndDate.After(confirmEvent.PeriodEnd))
}

func TestHandleWebhook_CancelDeactivates(t *testing.T) {
	confirmEvent := testEvent(provider.EventKindActivated, "u-1", "sub_1")
	cancelEvent := testEvent(provider.EventKindCanceled, "u-1", "sub_1")
	cancelEvent.ProviderStatus = "canceled"

	f := newFixture(t, &fakeAdapter{
		kind: types.ProviderKindStripe,
		checkout: &provider.CheckoutResult{
			Status:                 provider.CheckoutStatusConfirmed,
			ProviderSubscriptionID: "sub_1",
			Event:                  confirmEvent,
		},
		webhookEvent: cancelEvent,
	})

	result, err := f.svc.SignupCheckout(context.Background(), signupRequest())
	require.NoError(t, err)

	err = f.svc.HandleWebhook(context.Background(), types.ProviderKindStripe, []byte(`{}`), "sig", "trace-1")
	require.NoError(t, err)

	var row models.UserSubscription
	require.NoError(t, f.db.Where("user_id = ?", result.UserID).First(&row).Error)
	assert.Equal(t, types.SubscriptionStatusInactive, row.Status)
}
