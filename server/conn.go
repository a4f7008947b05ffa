package server

import (
	"context"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
)

// Requests that wait on the worker are answered from their own goroutine so
// a slow dmypy suggest never holds up didSave or shutdown behind it.
var asyncMethods = map[string]bool{
	protocol.MethodTextDocumentDefinition:  true,
	protocol.MethodWorkspaceExecuteCommand: true,
}

// rpcHandler adapts a session's protocol.Handler to jsonrpc2.
type rpcHandler struct {
	session  *Session
	protocol *protocol.Handler
	logger   *zap.SugaredLogger
}

func newRPCHandler(session *Session, log *zap.SugaredLogger) *rpcHandler {
	return &rpcHandler{
		session:  session,
		protocol: session.Handler.Protocol(),
		logger:   log,
	}
}

// Handle implements jsonrpc2.Handler.
func (h *rpcHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	gctx := &glsp.Context{
		Method: req.Method,
		Notify: func(method string, params any) {
			// Fails once the client is gone, nothing to do about it
			_ = conn.Notify(ctx, method, params)
		},
		Call: func(method string, params any, result any) {
			if err := conn.Call(ctx, method, params, result); err != nil {
				h.logger.Debugw("client call failed", "method", method, logger.FieldError, err.Error())
			}
		},
	}
	if req.Params != nil {
		gctx.Params = *req.Params
	}

	if req.Method == protocol.MethodExit {
		// protocol.Handler refuses exit after shutdown, so it is handled here
		h.logger.Infow("exit received, closing connection")
		h.session.Handler.Close()
		if err := conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
			h.logger.Warnw("failed to close connection", logger.FieldError, err.Error())
		}
		return
	}

	if asyncMethods[req.Method] && !req.Notif {
		go h.dispatch(ctx, conn, req, gctx)
		return
	}
	h.dispatch(ctx, conn, req, gctx)
}

func (h *rpcHandler) dispatch(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, gctx *glsp.Context) {
	result, rpcErr := h.call(gctx)

	if req.Notif {
		if rpcErr != nil {
			h.logger.Warnw("notification failed", "method", req.Method, logger.FieldError, rpcErr.Message)
		}
		return
	}

	var err error
	if rpcErr != nil {
		err = conn.ReplyWithError(ctx, req.ID, rpcErr)
	} else {
		err = conn.Reply(ctx, req.ID, result)
	}
	if err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		h.logger.Warnw("failed to send reply", "method", req.Method, logger.FieldError, err.Error())
	}
}

// call runs the protocol handler and maps its outcome to a JSON-RPC error.
func (h *rpcHandler) call(gctx *glsp.Context) (any, *jsonrpc2.Error) {
	result, validMethod, validParams, err := h.protocol.Handle(gctx)
	switch {
	case !validMethod:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not supported: %s", gctx.Method),
		}
	case !validParams:
		rpcErr := &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
		if err != nil {
			rpcErr.Message = err.Error()
		}
		return nil, rpcErr
	case err != nil:
		return nil, toRPCError(err)
	default:
		return result, nil
	}
}

func toRPCError(err error) *jsonrpc2.Error {
	code := int64(jsonrpc2.CodeInvalidRequest)
	switch {
	case errors.IsInvalidRequestError(err):
		code = jsonrpc2.CodeInvalidParams
	case errors.IsMalformedDefinition(err), errors.IsAssertionFailure(err):
		code = jsonrpc2.CodeInternalError
	}

	message := err.Error()
	if hints := errors.FlattenHints(err); hints != "" {
		message += " (" + hints + ")"
	}
	return &jsonrpc2.Error{Code: code, Message: message}
}
