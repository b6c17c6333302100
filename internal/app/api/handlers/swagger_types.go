package handlers

import (
	"github.com/prepmed/billing/internal/app/service/fulfillment"
	"github.com/prepmed/billing/internal/app/service/reward"
	"github.com/prepmed/billing/internal/app/service/statistics"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespSignup wraps SignupResult in the standard envelope.
type RespSignup struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    fulfillment.SignupResult `json:"data"`
}

// RespSubscription wraps a ledger row in the standard envelope.
type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.UserSubscription  `json:"data"`
}

// RespListSubscriptions wraps ListSubscriptionsResponse in the standard envelope.
type RespListSubscriptions struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    ListSubscriptionsResponse `json:"data"`
}

// RespStatistic wraps StatisticResponse in the standard envelope.
type RespStatistic struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    statistics.StatisticResponse `json:"data"`
}

// RespDailyQuestion wraps DailyQuestionView in the standard envelope.
type RespDailyQuestion struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    DailyQuestionView        `json:"data"`
}

// RespSubmitAnswer wraps SubmitResult in the standard envelope.
type RespSubmitAnswer struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    reward.SubmitResult      `json:"data"`
}
