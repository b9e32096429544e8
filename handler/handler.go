package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolio-backend/internal/domain"
	"portfolio-backend/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 16 << 10
)

type ChatUseCase interface {
	Stream(ctx context.Context, in usecase.ChatInput) (*usecase.ChatStream, error)
}

type ProjectLister interface {
	List(ctx context.Context) []domain.Project
}

type ProfileGetter interface {
	Get() usecase.ProfileOutput
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type projectsResponse struct {
	Projects []domain.Project `json:"projects"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type metaEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type fragmentEvent struct {
	Text string `json:"text"`
}

// Handler serves the portfolio API behind a Lambda Function URL in
// RESPONSE_STREAM invoke mode.
type Handler struct {
	chat     ChatUseCase
	projects ProjectLister
	profile  ProfileGetter
	log      *zap.Logger
}

type Option func(*Handler)

func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

func NewHandler(chat ChatUseCase, projects ProjectLister, profile ProfileGetter, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if projects == nil {
		return nil, errors.New("handler: project lister must not be nil")
	}
	if profile == nil {
		return nil, errors.New("handler: profile getter must not be nil")
	}
	h := &Handler{chat: chat, projects: projects, profile: profile, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes one Function URL request. Chat replies are streamed as
// server-sent events; everything else is a single JSON document.
func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	method := strings.ToUpper(req.RequestContext.HTTP.Method)
	path := routePath(req)
	log := h.log.With(
		zap.String("correlation_id", correlationID),
		zap.String("method", method),
		zap.String("path", path),
	)

	switch path {
	case "/projects":
		if method != http.MethodGet {
			return methodNotAllowed(correlationID, http.MethodGet), nil
		}
		return jsonResponse(http.StatusOK, correlationID, projectsResponse{Projects: h.projects.List(ctx)}), nil
	case "/profile":
		if method != http.MethodGet {
			return methodNotAllowed(correlationID, http.MethodGet), nil
		}
		return jsonResponse(http.StatusOK, correlationID, h.profile.Get()), nil
	case "/chat":
		if method != http.MethodPost {
			return methodNotAllowed(correlationID, http.MethodPost), nil
		}
		return h.handleChat(ctx, log, req, correlationID), nil
	default:
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{
			Error:   "NOT_FOUND",
			Message: http.StatusText(http.StatusNotFound),
		}), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, log *zap.Logger, req events.LambdaFunctionURLRequest, correlationID string) *events.LambdaFunctionURLStreamingResponse {
	body, err := requestBody(req)
	if err != nil {
		log.Info("chat request rejected", zap.Error(err))
		return errorJSON(correlationID, usecase.ErrorInvalidInput)
	}
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		log.Info("chat request rejected", zap.Error(err))
		return errorJSON(correlationID, usecase.ErrorInvalidInput)
	}

	stream, err := h.chat.Stream(ctx, usecase.ChatInput{Message: in.Message, ConversationID: in.ConversationID})
	if err != nil {
		code := errorCode(err)
		logUseCaseError(log, "chat request failed", err)
		return errorJSON(correlationID, code)
	}

	log = log.With(zap.String("conversation_id", stream.ConversationID), zap.String("message_id", stream.MessageID))
	pr, pw := io.Pipe()
	go func() {
		err := writeChatEvents(pw, stream)
		// Release before the reader can observe EOF.
		stream.Close()
		if err != nil {
			log.Info("chat stream aborted", zap.Error(err))
		}
		_ = pw.CloseWithError(err)
	}()

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/event-stream",
			"Cache-Control":   "no-cache",
			correlationHeader: correlationID,
		},
		Body: pr,
	}
}

// writeChatEvents emits meta, the fragments and a terminal done or error
// event. It returns only write failures; a reply failure is reported to the
// client as an event.
func writeChatEvents(w io.Writer, stream *usecase.ChatStream) error {
	meta := metaEvent{ConversationID: stream.ConversationID, MessageID: stream.MessageID}
	if err := writeEvent(w, "meta", meta); err != nil {
		return err
	}
	for fragment, err := range stream.Fragments() {
		if err != nil {
			return writeEvent(w, "error", errorResponse{Error: string(errorCode(err)), Message: usecase.FallbackReply})
		}
		if err := writeEvent(w, "fragment", fragmentEvent{Text: fragment}); err != nil {
			return err
		}
	}
	return writeEvent(w, "done", meta)
}

func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("handler: encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("handler: write %s event: %w", name, err)
	}
	return nil
}

func requestBody(req events.LambdaFunctionURLRequest) ([]byte, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("handler: decode body: %w", err)
		}
		body = decoded
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("handler: body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

func routePath(req events.LambdaFunctionURLRequest) string {
	p := req.RawPath
	if p == "" {
		p = req.RequestContext.HTTP.Path
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func errorCode(err error) usecase.ErrorCode {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return usecase.ErrorInternal
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorSessionUnavailable, usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func logUseCaseError(log *zap.Logger, msg string, err error) {
	fields := []zap.Field{zap.Error(err)}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		fields = append(fields, zap.String("code", string(ue.Code)), zap.String("reason", ue.Reason))
		if ue.Code == usecase.ErrorInvalidInput || ue.Code == usecase.ErrorConflict {
			log.Info(msg, fields...)
			return
		}
	}
	log.Error(msg, fields...)
}

func errorJSON(correlationID string, code usecase.ErrorCode) *events.LambdaFunctionURLStreamingResponse {
	return jsonResponse(statusFor(code), correlationID, errorResponse{Error: string(code), Message: usecase.FallbackReply})
}

func methodNotAllowed(correlationID, allow string) *events.LambdaFunctionURLStreamingResponse {
	resp := jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{
		Error:   "METHOD_NOT_ALLOWED",
		Message: http.StatusText(http.StatusMethodNotAllowed),
	})
	resp.Headers["Allow"] = allow
	return resp
}

func jsonResponse(status int, correlationID string, v any) *events.LambdaFunctionURLStreamingResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"` + usecase.FallbackReply + `"}`)
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: strings.NewReader(string(body)),
	}
}

// headerValue looks up a header case-insensitively; Function URLs lower-case
// header names but local callers may not.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
