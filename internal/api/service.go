package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "quizd.v1.AttemptService"

// AttemptServiceServer is the server API of quizd.v1.AttemptService.
type AttemptServiceServer interface {
	StartAttempt(context.Context, *StartAttemptRequest) (*StartAttemptResponse, error)
	GetAttemptQuestions(context.Context, *GetAttemptQuestionsRequest) (*GetAttemptQuestionsResponse, error)
	SubmitAttempt(context.Context, *SubmitAttemptRequest) (*SubmitAttemptResponse, error)
	GetAttemptResult(context.Context, *GetAttemptResultRequest) (*GetAttemptResultResponse, error)
	AssignQuiz(context.Context, *AssignQuizRequest) (*AssignQuizResponse, error)
	GetQuizReport(context.Context, *GetQuizReportRequest) (*GetQuizReportResponse, error)
	ListUserResults(context.Context, *ListUserResultsRequest) (*ListUserResultsResponse, error)
}

var AttemptServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AttemptServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("StartAttempt", AttemptServiceServer.StartAttempt),
		unaryMethod("GetAttemptQuestions", AttemptServiceServer.GetAttemptQuestions),
		unaryMethod("SubmitAttempt", AttemptServiceServer.SubmitAttempt),
		unaryMethod("GetAttemptResult", AttemptServiceServer.GetAttemptResult),
		unaryMethod("AssignQuiz", AttemptServiceServer.AssignQuiz),
		unaryMethod("GetQuizReport", AttemptServiceServer.GetQuizReport),
		unaryMethod("ListUserResults", AttemptServiceServer.ListUserResults),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quizd/v1/attempt",
}

func RegisterAttemptServiceServer(s grpc.ServiceRegistrar, srv AttemptServiceServer) {
	s.RegisterService(&AttemptServiceDesc, srv)
}

func unaryMethod[Req, Resp any](name string, call func(AttemptServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name

	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}

			s := srv.(AttemptServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// Client calls quizd.v1.AttemptService with the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) StartAttempt(ctx context.Context, in *StartAttemptRequest, opts ...grpc.CallOption) (*StartAttemptResponse, error) {
	return invoke[StartAttemptResponse](ctx, c.cc, "StartAttempt", in, opts)
}

func (c *Client) GetAttemptQuestions(ctx context.Context, in *GetAttemptQuestionsRequest, opts ...grpc.CallOption) (*GetAttemptQuestionsResponse, error) {
	return invoke[GetAttemptQuestionsResponse](ctx, c.cc, "GetAttemptQuestions", in, opts)
}

func (c *Client) SubmitAttempt(ctx context.Context, in *SubmitAttemptRequest, opts ...grpc.CallOption) (*SubmitAttemptResponse, error) {
	return invoke[SubmitAttemptResponse](ctx, c.cc, "SubmitAttempt", in, opts)
}

func (c *Client) GetAttemptResult(ctx context.Context, in *GetAttemptResultRequest, opts ...grpc.CallOption) (*GetAttemptResultResponse, error) {
	return invoke[GetAttemptResultResponse](ctx, c.cc, "GetAttemptResult", in, opts)
}

func (c *Client) AssignQuiz(ctx context.Context, in *AssignQuizRequest, opts ...grpc.CallOption) (*AssignQuizResponse, error) {
	return invoke[AssignQuizResponse](ctx, c.cc, "AssignQuiz", in, opts)
}

func (c *Client) GetQuizReport(ctx context.Context, in *GetQuizReportRequest, opts ...grpc.CallOption) (*GetQuizReportResponse, error) {
	return invoke[GetQuizReportResponse](ctx, c.cc, "GetQuizReport", in, opts)
}

func (c *Client) ListUserResults(ctx context.Context, in *ListUserResultsRequest, opts ...grpc.CallOption) (*ListUserResultsResponse, error) {
	return invoke[ListUserResultsResponse](ctx, c.cc, "ListUserResults", in, opts)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Codec)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
