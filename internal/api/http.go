package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"github.com/victornm/quizd/internal/errors"
)

// RegisterRoutes mounts the HTTP mirror of the gRPC service. r is expected to authenticate requests.
func (a *API) RegisterRoutes(r gin.IRouter) {
	quiz := r.Group("/quizzes/:quiz_id")
	quiz.POST("/attempt/start", handle(a.StartAttempt))
	quiz.GET("/attempt/questions", handle(a.GetAttemptQuestions))
	quiz.POST("/attempt/submit", handle(a.SubmitAttempt))
	quiz.GET("/attempt/result", handle(a.GetAttemptResult))
	quiz.POST("/assignments", handle(a.AssignQuiz))
	quiz.GET("/report", handle(a.GetQuizReport))

	r.GET("/me/results", handle(a.ListUserResults))
	r.GET("/users/:user_id/results", handle(a.ListUserResults))
}

// handle binds the path, query and JSON body into a new Req, calls fn and renders its result.
func handle[Req, Resp any](fn func(context.Context, *Req) (*Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := new(Req)

		if c.Request.ContentLength != 0 && c.Request.Method != http.MethodGet {
			if err := c.ShouldBindJSON(req); err != nil {
				RenderError(c, errors.InvalidArgumentf("invalid JSON body: %v", err))
				return
			}
		}

		if c.Request.Method == http.MethodGet {
			if err := c.ShouldBindQuery(req); err != nil {
				RenderError(c, errors.InvalidArgumentf("invalid query: %v", err))
				return
			}
		}

		if err := c.ShouldBindUri(req); err != nil {
			RenderError(c, errors.InvalidArgumentf("invalid path: %v", err))
			return
		}

		resp, err := fn(c.Request.Context(), req)
		if err != nil {
			RenderError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// RenderError writes err as {code, message} with the HTTP status of its code.
func RenderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "http: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

// UnaryErrorInterceptor converts handler errors to gRPC statuses and logs internal failures.
func UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		e := errors.Convert(err)
		if e.Code == errors.CodeInternal {
			slog.ErrorContext(ctx, "grpc: request failed",
				"method", info.FullMethod,
				"error", err,
			)
		}

		return nil, e
	}
}
