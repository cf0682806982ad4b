package api

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/quizd/internal/attempt"
	"github.com/victornm/quizd/internal/auth"
	"github.com/victornm/quizd/internal/domain"
	"github.com/victornm/quizd/internal/event"
	"github.com/victornm/quizd/internal/report"
)

type Config struct {
	GRPC         grpc.ServiceRegistrar
	EventBus     *event.Bus
	Attempt      *attempt.Service
	Report       *report.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// API implements quizd.v1.AttemptService. Every call needs an authenticated identity in its context.
type API struct {
	as *attempt.Service
	rs *report.Service

	validate *validator.Validate

	redis  Redis
	prefix string
}

var _ AttemptServiceServer = (*API)(nil)

func New(c Config) *API {
	a := &API{
		as:       c.Attempt,
		rs:       c.Report,
		validate: newValidator(),
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// gRPC APIs
	if c.GRPC != nil {
		RegisterAttemptServiceServer(c.GRPC, a)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameAttemptCompleted, func(ctx context.Context, e event.Event) error {
		return a.PublishAttemptCompleted(ctx, e.(domain.EventAttemptCompleted))
	})
	c.EventBus.Subscribe(domain.EventNameQuizReportUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishQuizReportUpdated(ctx, e.(domain.EventQuizReportUpdated))
	})

	return a
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *API) StartAttempt(ctx context.Context, req *StartAttemptRequest) (*StartAttemptResponse, error) {
	id, err := a.caller(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := a.as.StartAttempt(ctx, attempt.StartAttemptRequest{
		UserID: id.UserID,
		QuizID: req.QuizID,
	})
	if err != nil {
		return nil, err
	}

	return &StartAttemptResponse{
		Attempt:   toAttempt(resp.Attempt),
		Quiz:      toQuiz(resp.Quiz),
		Questions: toQuestions(resp.Questions, resp.Order),
	}, nil
}

func (a *API) GetAttemptQuestions(ctx context.Context, req *GetAttemptQuestionsRequest) (*GetAttemptQuestionsResponse, error) {
	id, err := a.caller(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := a.as.GetAttemptQuestions(ctx, attempt.GetAttemptQuestionsRequest{
		UserID: id.UserID,
		QuizID: req.QuizID,
	})
	if err != nil {
		return nil, err
	}

	return &GetAttemptQuestionsResponse{
		Questions: toQuestions(resp.Questions, resp.Order),
	}, nil
}

func (a *API) SubmitAttempt(ctx context.Context, req *SubmitAttemptRequest) (*SubmitAttemptResponse, error) {
	id, err := a.caller(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := a.as.SubmitAttempt(ctx, attempt.SubmitAttemptRequest{
		UserID:  id.UserID,
		QuizID:  req.QuizID,
		Answers: toAnswers(req.Answers),
	})
	if err != nil {
		return nil, err
	}

	return &SubmitAttemptResponse{
		Attempt: toAttempt(resp.Attempt),
		Result:  toAttemptResult(resp.Result, resp.AnswersReleased),
	}, nil
}

func (a *API) GetAttemptResult(ctx context.Context, req *GetAttemptResultRequest) (*GetAttemptResultResponse, error) {
	id, err := a.caller(ctx, req)
	if err != nil {
		return nil, err
	}

	userID, err := a.subject(ctx, id, req.UserID)
	if err != nil {
		return nil, err
	}

	resp, err := a.as.GetAttemptResult(ctx, attempt.GetAttemptResultRequest{
		UserID: userID,
		QuizID: req.QuizID,
	})
	if err != nil {
		return nil, err
	}

	return toResultResponse(resp), nil
}

func (a *API) AssignQuiz(ctx context.Context, req *AssignQuizRequest) (*AssignQuizResponse, error) {
	if err := a.validate.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	admin, err := auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	as, err := a.as.AssignQuiz(ctx, attempt.AssignQuizRequest{
		QuizID:     req.QuizID,
		UserIDs:    req.UserIDs,
		AssignedBy: admin.UserID,
	})
	if err != nil {
		return nil, err
	}

	return &AssignQuizResponse{
		Attempts: toAttempts(as),
	}, nil
}

func (a *API) GetQuizReport(ctx context.Context, req *GetQuizReportRequest) (*GetQuizReportResponse, error) {
	if err := a.validate.StructCtx(ctx, req); err != nil {
		return nil, err
	}

	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	r, err := a.rs.GetQuizReport(ctx, report.GetQuizReportRequest{
		QuizID: req.QuizID,
	})
	if err != nil {
		return nil, err
	}

	return &GetQuizReportResponse{
		Report: toQuizReport(*r),
	}, nil
}

func (a *API) ListUserResults(ctx context.Context, req *ListUserResultsRequest) (*ListUserResultsResponse, error) {
	id, err := a.caller(ctx, req)
	if err != nil {
		return nil, err
	}

	userID, err := a.subject(ctx, id, req.UserID)
	if err != nil {
		return nil, err
	}

	as, err := a.as.ListUserResults(ctx, attempt.ListUserResultsRequest{
		UserID: userID,
	})
	if err != nil {
		return nil, err
	}

	return &ListUserResultsResponse{
		Attempts: toAttempts(as),
	}, nil
}

// caller validates req and returns the authenticated identity.
func (a *API) caller(ctx context.Context, req any) (auth.Identity, error) {
	if err := a.validate.StructCtx(ctx, req); err != nil {
		return auth.Identity{}, err
	}
	return auth.MustFromContext(ctx)
}

// subject resolves whose data a request is about: the caller by default, another user for admins only.
func (a *API) subject(ctx context.Context, id auth.Identity, userID int64) (int64, error) {
	if userID == 0 || userID == id.UserID {
		return id.UserID, nil
	}

	if _, err := auth.RequireAdmin(ctx); err != nil {
		return 0, err
	}
	return userID, nil
}
