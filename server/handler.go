package server

import (
	"context"
	"fmt"

	"github.com/teranos/dmypyls/analysis"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/internal/util"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/position"
	"github.com/teranos/dmypyls/version"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Commands accepted by workspace/executeCommand
const (
	CommandCheck   = "dmypy.check"
	CommandRecheck = "dmypy.recheck"
	CommandRestart = "dmypy.restart"
	CommandHealth  = "dmypy.health"
)

// Commands lists every workspace/executeCommand command.
var Commands = []string{CommandCheck, CommandRecheck, CommandRestart, CommandHealth}

// Handler implements the LSP methods of one editor session on top of its
// analysis.Coordinator.
type Handler struct {
	ctx         context.Context
	coordinator *analysis.Coordinator
	sink        *logger.ClientSink
	logger      *zap.SugaredLogger
}

// NewHandler creates a handler. ctx lives as long as the connection and
// bounds how long definition requests wait for the worker. sink may be nil.
func NewHandler(ctx context.Context, coordinator *analysis.Coordinator, sink *logger.ClientSink, log *zap.SugaredLogger) *Handler {
	return &Handler{
		ctx:         ctx,
		coordinator: coordinator,
		sink:        sink,
		logger:      log,
	}
}

// Protocol returns the glsp dispatch table for this handler.
func (h *Handler) Protocol() *protocol.Handler {
	return &protocol.Handler{
		Initialize:              h.Initialize,
		Initialized:             h.Initialized,
		Shutdown:                h.Shutdown,
		Exit:                    h.Exit,
		SetTrace:                h.SetTrace,
		TextDocumentDidOpen:     h.TextDocumentDidOpen,
		TextDocumentDidChange:   h.TextDocumentDidChange,
		TextDocumentDidSave:     h.TextDocumentDidSave,
		TextDocumentDidClose:    h.TextDocumentDidClose,
		TextDocumentDefinition:  h.TextDocumentDefinition,
		WorkspaceExecuteCommand: h.WorkspaceExecuteCommand,
	}
}

// Initialize handles LSP initialize request
func (h *Handler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	h.attachClientLog(ctx)

	result := protocol.InitializeResult{
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    "dmypyls",
			Version: util.Ptr(version.Get().ServerVersion()),
		},
	}

	root := rootPath(params)
	if root == "" {
		// Without a root there is nothing to start the worker for
		h.logger.Warnw("no root URI, serving without capabilities")
		return result, nil
	}

	if err := h.coordinator.OnInitialize(root); err != nil {
		return nil, err
	}

	h.logger.Infow("dmypy LSP client initializing",
		logger.FieldRoot, root,
		"client", clientName(params),
	)

	result.Capabilities = protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: util.Ptr(true),
			Change:    util.Ptr(protocol.TextDocumentSyncKindFull),
			Save:      &protocol.SaveOptions{IncludeText: util.Ptr(false)},
		},
		DefinitionProvider: true,
		ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
			Commands: Commands,
		},
	}
	return result, nil
}

// Initialized is called after client receives InitializeResult
func (h *Handler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	h.logger.Infow("dmypy LSP client initialized")
	return nil
}

// Shutdown handles LSP shutdown request
func (h *Handler) Shutdown(ctx *glsp.Context) error {
	h.logger.Infow("dmypy LSP client shutting down")
	h.coordinator.OnShutdown()
	return nil
}

// Exit handles the exit notification. The connection closes afterwards.
func (h *Handler) Exit(ctx *glsp.Context) error {
	h.Close()
	return nil
}

// Close stops the worker if shutdown has not, and stops forwarding logs.
func (h *Handler) Close() {
	h.coordinator.OnShutdown()
	if h.sink != nil {
		h.sink.Detach()
	}
}

// SetTrace accepts $/setTrace so clients that send it get no error
func (h *Handler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	h.logger.Debugw("trace level set", "value", params.Value)
	return nil
}

// TextDocumentDidOpen handles document open notifications
func (h *Handler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	h.logger.Debugw("Document opened", logger.FieldURI, params.TextDocument.URI, "length", len(params.TextDocument.Text))
	return nil
}

// TextDocumentDidChange handles document change notifications
func (h *Handler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	h.logger.Debugw("Document changed", logger.FieldURI, params.TextDocument.URI, "changes", len(params.ContentChanges))
	return nil
}

// TextDocumentDidClose handles document close notifications
func (h *Handler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	h.logger.Debugw("Document closed", logger.FieldURI, params.TextDocument.URI)
	return nil
}

// TextDocumentDidSave hands the saved file to the coordinator
func (h *Handler) TextDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	path := position.URIToPath(params.TextDocument.URI)
	h.logger.Debugw("Document saved", logger.FieldPath, path)
	h.coordinator.OnFileSaved(path)
	return nil
}

// TextDocumentDefinition handles go-to-definition requests
func (h *Handler) TextDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorw("Panic in definition handler", "panic", r, logger.FieldURI, params.TextDocument.URI)
			result = nil
			err = errors.AssertionFailedf("panic in definition handler: %v", r)
		}
	}()

	path := position.URIToPath(params.TextDocument.URI)
	pos := position.Position{
		Line:      int(params.Position.Line),
		Character: int(params.Position.Character),
	}

	loc, err := h.coordinator.OnDefinitionRequested(h.ctx, path, pos)
	if err != nil {
		if errors.IsWorkerNotReady(err) {
			h.logger.Infow("definition requested before the worker is ready", logger.FieldPath, path)
			return nil, nil
		}
		h.logger.Errorw("definition failed", logger.FieldPath, path, logger.FieldError, err.Error())
		return nil, err
	}
	if loc == nil {
		return nil, nil
	}
	return toProtocolLocation(*loc), nil
}

// WorkspaceExecuteCommand runs one of Commands
func (h *Handler) WorkspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	h.logger.Infow("execute command", logger.FieldCommand, params.Command)

	switch params.Command {
	case CommandCheck:
		uri, err := stringArgument(params.Arguments, 0)
		if err != nil {
			return nil, err
		}
		queued := h.coordinator.Check(position.URIToPath(uri))
		return map[string]bool{"queued": queued}, nil

	case CommandRecheck:
		return nil, h.coordinator.Recheck()

	case CommandRestart:
		return nil, h.coordinator.Restart()

	case CommandHealth:
		return h.coordinator.Health(), nil

	default:
		return nil, errors.NewInvalidRequestError("unknown command %q", params.Command)
	}
}

// attachClientLog forwards session logs to the editor as window/logMessage
func (h *Handler) attachClientLog(ctx *glsp.Context) {
	if h.sink == nil || ctx.Notify == nil {
		return
	}
	notify := ctx.Notify
	h.sink.Attach(func(level zapcore.Level, message string) {
		notify(protocol.ServerWindowLogMessage, &protocol.LogMessageParams{
			Type:    messageType(level),
			Message: message,
		})
	})
}

func messageType(level zapcore.Level) protocol.MessageType {
	switch {
	case level >= zapcore.ErrorLevel:
		return protocol.MessageTypeError
	case level == zapcore.WarnLevel:
		return protocol.MessageTypeWarning
	case level == zapcore.InfoLevel:
		return protocol.MessageTypeInfo
	default:
		return protocol.MessageTypeLog
	}
}

// rootPath prefers rootUri and falls back to the deprecated rootPath
func rootPath(params *protocol.InitializeParams) string {
	if params.RootURI != nil && *params.RootURI != "" {
		return position.URIToPath(*params.RootURI)
	}
	if params.RootPath != nil {
		return *params.RootPath
	}
	return ""
}

func clientName(params *protocol.InitializeParams) string {
	if params.ClientInfo == nil {
		return "unknown"
	}
	if params.ClientInfo.Version != nil {
		return params.ClientInfo.Name + " " + *params.ClientInfo.Version
	}
	return params.ClientInfo.Name
}

func stringArgument(args []any, i int) (string, error) {
	if len(args) <= i {
		return "", errors.NewInvalidRequestError("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", errors.NewInvalidRequestError("argument %d must be a string, got %s", i, fmt.Sprintf("%T", args[i]))
	}
	return s, nil
}

func toProtocolLocation(loc position.Location) protocol.Location {
	return protocol.Location{
		URI: loc.URI,
		Range: protocol.Range{
			Start: toProtocolPosition(loc.Range.Start),
			End:   toProtocolPosition(loc.Range.End),
		},
	}
}

func toProtocolPosition(p position.Position) protocol.Position {
	return protocol.Position{
		Line:      protocol.UInteger(p.Line),
		Character: protocol.UInteger(p.Character),
	}
}
