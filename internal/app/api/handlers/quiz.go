package handlers

import (
	"net/http"
	"time"

	"github.com/prepmed/billing/internal/app/api/middleware"
	"github.com/prepmed/billing/internal/app/service/reward"
	"github.com/prepmed/billing/pkg/response"

	"github.com/gin-gonic/gin"
)

type DailyQuestionView struct {
	ID        string `json:"id"`
	Prompt    string `json:"prompt"`
	PublishOn string `json:"publish_on"`
}

// @Summary      Today's quiz question
// @Tags         Quiz
// @Produce      json
// @Success      200  {object}  handlers.RespDailyQuestion
// @Router       /api/v1/quiz/daily-question [get]
func ApiDailyQuestion(svc *reward.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := svc.QuestionForDate(c.Request.Context(), time.Now())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if q == nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "no question published today"))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&DailyQuestionView{ID: q.ID, Prompt: q.Prompt, PublishOn: q.PublishOn}))
	}
}

// @Summary      Submit a daily quiz answer
// @Description  Scores the answer; registered users accumulate points toward a free subscription.
// @Tags         Quiz
// @Accept       json
// @Produce      json
// @Param        request body reward.SubmitRequest true "Answer submission"
// @Success      200  {object}  handlers.RespSubmitAnswer
// @Router       /api/v1/quiz/daily-answer [post]
func ApiSubmitDailyAnswer(svc *reward.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reward.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		// The session, not the payload, decides who gets the points.
		req.UserID = c.GetString(middleware.ContextUserIDKey)

		result, err := svc.SubmitAnswer(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](apiCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(result))
	}
}

func RegisterQuizRoutes(r gin.IRouter, svc *reward.Service) {
	r.GET("/daily-question", ApiDailyQuestion(svc))
	r.POST("/daily-answer", ApiSubmitDailyAnswer(svc))
}
