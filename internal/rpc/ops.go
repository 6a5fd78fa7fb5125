package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/service"
)

// OpsServiceName is the fully-qualified name of the ops service.
const OpsServiceName = "studyping.ops.v1.OpsService"

const (
	DispatchTickProcedure       = "/" + OpsServiceName + "/DispatchTick"
	GeneratePingsProcedure      = "/" + OpsServiceName + "/GeneratePings"
	LinkEnrollmentProcedure     = "/" + OpsServiceName + "/LinkEnrollment"
	CreateStudyProcedure        = "/" + OpsServiceName + "/CreateStudy"
	CreateTemplateProcedure     = "/" + OpsServiceName + "/CreateTemplate"
	UpdateScheduleProcedure     = "/" + OpsServiceName + "/UpdateSchedule"
	DeleteTemplateProcedure     = "/" + OpsServiceName + "/DeleteTemplate"
	UnenrollProcedure           = "/" + OpsServiceName + "/Unenroll"
	IssueDashboardCodeProcedure = "/" + OpsServiceName + "/IssueDashboardCode"
)

type Ticker interface {
	Tick(ctx context.Context) (service.TickResult, error)
}

type Generator interface {
	Generate(ctx context.Context, enrollmentID int64) ([]*model.Ping, error)
}

type Enrollments interface {
	Link(ctx context.Context, code, recipient string) (*model.Enrollment, error)
	Unenroll(ctx context.Context, enrollmentID int64) error
	IssueDashboardCode(ctx context.Context, enrollmentID int64) (string, time.Time, error)
}

type Templates interface {
	CreateTemplate(ctx context.Context, t *model.PingTemplate) error
	UpdateSchedule(ctx context.Context, id int64, sched model.Schedule) error
	DeleteTemplate(ctx context.Context, id int64) error
}

type Studies interface {
	CreateStudy(ctx context.Context, study *model.Study) error
}

// OpsDeps are the services behind the ops RPCs
type OpsDeps struct {
	Ticker      Ticker
	Generator   Generator
	Enrollments Enrollments
	Templates   Templates
	Studies     Studies
}

// OpsServer implements the operator-only RPCs
type OpsServer struct {
	d OpsDeps
}

// NewOpsServer creates a new OpsServer instance
func NewOpsServer(d OpsDeps) *OpsServer {
	return &OpsServer{d: d}
}

// NewOpsServiceHandler builds an HTTP handler for the ops service. The
// returned path is the prefix to mount it under.
func NewOpsServiceHandler(s *OpsServer, opts ...connect.HandlerOption) (string, http.Handler) {
	handlers := map[string]http.Handler{
		DispatchTickProcedure:       connect.NewUnaryHandler(DispatchTickProcedure, s.DispatchTick, opts...),
		GeneratePingsProcedure:      connect.NewUnaryHandler(GeneratePingsProcedure, s.GeneratePings, opts...),
		LinkEnrollmentProcedure:     connect.NewUnaryHandler(LinkEnrollmentProcedure, s.LinkEnrollment, opts...),
		CreateStudyProcedure:        connect.NewUnaryHandler(CreateStudyProcedure, s.CreateStudy, opts...),
		CreateTemplateProcedure:     connect.NewUnaryHandler(CreateTemplateProcedure, s.CreateTemplate, opts...),
		UpdateScheduleProcedure:     connect.NewUnaryHandler(UpdateScheduleProcedure, s.UpdateSchedule, opts...),
		DeleteTemplateProcedure:     connect.NewUnaryHandler(DeleteTemplateProcedure, s.DeleteTemplate, opts...),
		UnenrollProcedure:           connect.NewUnaryHandler(UnenrollProcedure, s.Unenroll, opts...),
		IssueDashboardCodeProcedure: connect.NewUnaryHandler(IssueDashboardCodeProcedure, s.IssueDashboardCode, opts...),
	}

	return "/" + OpsServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// DispatchTick runs one dispatch tick immediately
func (s *OpsServer) DispatchTick(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	res, err := s.d.Ticker.Tick(ctx)
	if err != nil {
		return nil, toConnectError(fmt.Errorf("failed to run tick: %w", err))
	}

	summary, err := structpb.NewStruct(map[string]any{
		"sent":            res.Sent,
		"failed":          res.Failed,
		"blocked":         res.Blocked,
		"reminded":        res.Reminded,
		"reminder_failed": res.ReminderFailed,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to encode summary: %w", err))
	}
	return connect.NewResponse(summary), nil
}

// GeneratePings generates the pings of an enrollment that has none and
// returns how many were created
func (s *OpsServer) GeneratePings(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[wrapperspb.Int64Value], error) {
	id, err := positiveID(req.Msg)
	if err != nil {
		return nil, err
	}

	pings, err := s.d.Generator.Generate(ctx, id)
	if err != nil {
		return nil, toConnectError(fmt.Errorf("failed to generate pings: %w", err))
	}
	log.Printf("[GENERATE] ops request: %d pings for enrollment %d", len(pings), id)
	return connect.NewResponse(wrapperspb.Int64(int64(len(pings)))), nil
}

// LinkEnrollment redeems a link code on behalf of a recipient
func (s *OpsServer) LinkEnrollment(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[wrapperspb.Int64Value], error) {
	fields := req.Msg.GetFields()
	code := strings.TrimSpace(fields["code"].GetStringValue())
	recipient := strings.TrimSpace(fields["recipient"].GetStringValue())
	if code == "" || recipient == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("code and recipient are required"))
	}

	e, err := s.d.Enrollments.Link(ctx, code, recipient)
	if err != nil {
		return nil, toConnectError(fmt.Errorf("failed to link enrollment: %w", err))
	}
	return connect.NewResponse(wrapperspb.Int64(e.ID)), nil
}

// CreateStudy registers a study from its JSON fields
func (s *OpsServer) CreateStudy(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[wrapperspb.Int64Value], error) {
	var study model.Study
	if err := decodeStruct(req.Msg, &study); err != nil {
		return nil, err
	}
	study.ID = 0

	if err := s.d.Studies.CreateStudy(ctx, &study); err != nil {
		return nil, toConnectError(fmt.Errorf("failed to create study: %w", err))
	}
	return connect.NewResponse(wrapperspb.Int64(study.ID)), nil
}

// CreateTemplate stores a ping template from its JSON fields
func (s *OpsServer) CreateTemplate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[wrapperspb.Int64Value], error) {
	var tpl model.PingTemplate
	if err := decodeStruct(req.Msg, &tpl); err != nil {
		return nil, err
	}
	tpl.ID = 0

	if err := s.d.Templates.CreateTemplate(ctx, &tpl); err != nil {
		return nil, toConnectError(fmt.Errorf("failed to create template: %w", err))
	}
	return connect.NewResponse(wrapperspb.Int64(tpl.ID)), nil
}

// UpdateSchedule replaces the schedule of a template
func (s *OpsServer) UpdateSchedule(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	var body struct {
		TemplateID int64          `json:"template_id"`
		Schedule   model.Schedule `json:"schedule"`
	}
	if err := decodeStruct(req.Msg, &body); err != nil {
		return nil, err
	}
	if body.TemplateID <= 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid template id %d", body.TemplateID))
	}

	if err := s.d.Templates.UpdateSchedule(ctx, body.TemplateID, body.Schedule); err != nil {
		return nil, toConnectError(fmt.Errorf("failed to update schedule: %w", err))
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// DeleteTemplate soft-deletes a template and its pings
func (s *OpsServer) DeleteTemplate(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[emptypb.Empty], error) {
	id, err := positiveID(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := s.d.Templates.DeleteTemplate(ctx, id); err != nil {
		return nil, toConnectError(fmt.Errorf("failed to delete template: %w", err))
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// Unenroll soft-deletes an enrollment and its pings
func (s *OpsServer) Unenroll(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[emptypb.Empty], error) {
	id, err := positiveID(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := s.d.Enrollments.Unenroll(ctx, id); err != nil {
		return nil, toConnectError(fmt.Errorf("failed to unenroll: %w", err))
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// IssueDashboardCode issues a one-time dashboard code for an enrollment
func (s *OpsServer) IssueDashboardCode(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[structpb.Struct], error) {
	id, err := positiveID(req.Msg)
	if err != nil {
		return nil, err
	}
	code, expires, err := s.d.Enrollments.IssueDashboardCode(ctx, id)
	if err != nil {
		return nil, toConnectError(fmt.Errorf("failed to issue dashboard code: %w", err))
	}

	out, err := structpb.NewStruct(map[string]any{
		"code":       code,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to encode dashboard code: %w", err))
	}
	return connect.NewResponse(out), nil
}

func positiveID(v *wrapperspb.Int64Value) (int64, error) {
	if id := v.GetValue(); id > 0 {
		return id, nil
	}
	return 0, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid id %d", v.GetValue()))
}

// decodeStruct maps a Struct onto a model through its JSON tags.
func decodeStruct(msg proto.Message, out any) error {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("failed to read request: %w", err))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("malformed request: %w", err))
	}
	return nil
}

func toConnectError(err error) *connect.Error {
	switch {
	case errors.Is(err, service.ErrEnrollmentNotFound),
		errors.Is(err, service.ErrStudyNotFound),
		errors.Is(err, service.ErrTemplateNotFound),
		errors.Is(err, service.ErrPingNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, service.ErrInvalidLinkCode),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrInvalidWindow),
		errors.Is(err, service.ErrInvalidTimezone),
		errors.Is(err, service.ErrInvalidTemplate),
		errors.Is(err, service.ErrInvalidStudy):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, service.ErrNoTemplates),
		errors.Is(err, service.ErrNotEnrolled),
		errors.Is(err, service.ErrAlreadyGenerated),
		errors.Is(err, service.ErrGenerationFailed):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
