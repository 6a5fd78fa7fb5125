package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// OpsClient calls the ops service
type OpsClient struct {
	tick          *connect.Client[emptypb.Empty, structpb.Struct]
	generate      *connect.Client[wrapperspb.Int64Value, wrapperspb.Int64Value]
	link          *connect.Client[structpb.Struct, wrapperspb.Int64Value]
	createStudy   *connect.Client[structpb.Struct, wrapperspb.Int64Value]
	createTpl     *connect.Client[structpb.Struct, wrapperspb.Int64Value]
	updateSched   *connect.Client[structpb.Struct, emptypb.Empty]
	deleteTpl     *connect.Client[wrapperspb.Int64Value, emptypb.Empty]
	unenroll      *connect.Client[wrapperspb.Int64Value, emptypb.Empty]
	dashboardCode *connect.Client[wrapperspb.Int64Value, structpb.Struct]
}

// NewOpsClient creates a client for the ops service at baseURL. A non-empty
// token is sent as a bearer token.
func NewOpsClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *OpsClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if token != "" {
		opts = append(opts, connect.WithInterceptors(NewTokenInterceptor(token)))
	}
	return &OpsClient{
		tick:          connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+DispatchTickProcedure, opts...),
		generate:      connect.NewClient[wrapperspb.Int64Value, wrapperspb.Int64Value](httpClient, baseURL+GeneratePingsProcedure, opts...),
		link:          connect.NewClient[structpb.Struct, wrapperspb.Int64Value](httpClient, baseURL+LinkEnrollmentProcedure, opts...),
		createStudy:   connect.NewClient[structpb.Struct, wrapperspb.Int64Value](httpClient, baseURL+CreateStudyProcedure, opts...),
		createTpl:     connect.NewClient[structpb.Struct, wrapperspb.Int64Value](httpClient, baseURL+CreateTemplateProcedure, opts...),
		updateSched:   connect.NewClient[structpb.Struct, emptypb.Empty](httpClient, baseURL+UpdateScheduleProcedure, opts...),
		deleteTpl:     connect.NewClient[wrapperspb.Int64Value, emptypb.Empty](httpClient, baseURL+DeleteTemplateProcedure, opts...),
		unenroll:      connect.NewClient[wrapperspb.Int64Value, emptypb.Empty](httpClient, baseURL+UnenrollProcedure, opts...),
		dashboardCode: connect.NewClient[wrapperspb.Int64Value, structpb.Struct](httpClient, baseURL+IssueDashboardCodeProcedure, opts...),
	}
}

func (c *OpsClient) DispatchTick(ctx context.Context) (*structpb.Struct, error) {
	resp, err := c.tick.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *OpsClient) GeneratePings(ctx context.Context, enrollmentID int64) (int64, error) {
	return callID(ctx, c.generate, wrapperspb.Int64(enrollmentID))
}

func (c *OpsClient) LinkEnrollment(ctx context.Context, code, recipient string) (int64, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"code":      structpb.NewStringValue(code),
		"recipient": structpb.NewStringValue(recipient),
	}}
	return callID(ctx, c.link, req)
}

// CreateStudy sends the study's JSON fields and returns the new study id
func (c *OpsClient) CreateStudy(ctx context.Context, study *structpb.Struct) (int64, error) {
	return callID(ctx, c.createStudy, study)
}

// CreateTemplate sends the template's JSON fields and returns the new template id
func (c *OpsClient) CreateTemplate(ctx context.Context, tpl *structpb.Struct) (int64, error) {
	return callID(ctx, c.createTpl, tpl)
}

func (c *OpsClient) UpdateSchedule(ctx context.Context, templateID int64, sched *structpb.ListValue) error {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"template_id": structpb.NewNumberValue(float64(templateID)),
		"schedule":    structpb.NewListValue(sched),
	}}
	_, err := c.updateSched.CallUnary(ctx, connect.NewRequest(req))
	return err
}

func (c *OpsClient) DeleteTemplate(ctx context.Context, templateID int64) error {
	_, err := c.deleteTpl.CallUnary(ctx, connect.NewRequest(wrapperspb.Int64(templateID)))
	return err
}

func (c *OpsClient) Unenroll(ctx context.Context, enrollmentID int64) error {
	_, err := c.unenroll.CallUnary(ctx, connect.NewRequest(wrapperspb.Int64(enrollmentID)))
	return err
}

// IssueDashboardCode returns the code and its RFC 3339 expiry
func (c *OpsClient) IssueDashboardCode(ctx context.Context, enrollmentID int64) (string, string, error) {
	resp, err := c.dashboardCode.CallUnary(ctx, connect.NewRequest(wrapperspb.Int64(enrollmentID)))
	if err != nil {
		return "", "", err
	}
	f := resp.Msg.GetFields()
	return f["code"].GetStringValue(), f["expires_at"].GetStringValue(), nil
}

func callID[Req any](ctx context.Context, c *connect.Client[Req, wrapperspb.Int64Value], msg *Req) (int64, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return 0, err
	}
	return resp.Msg.GetValue(), nil
}
