package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/persist"
	"github.com/ashton/loopchat/internal/remote"
	"github.com/ashton/loopchat/internal/workspace"
)

// session is an opened workspace plus what has to be released afterwards.
type session struct {
	ws      *workspace.Workspace
	storage *persist.SQLite
}

func (s *session) Close() {
	if err := s.storage.Close(); err != nil {
		logger.Warn("close state db", zap.Error(err))
	}
}

// openSession opens the local state, connects the backend and, unless
// --offline is set, refreshes every store. A failed refresh is reported and
// the cached state is used.
func openSession(cmd *cobra.Command) (*session, context.Context, context.CancelFunc, error) {
	return openState(cmd, !offline)
}

func openState(cmd *cobra.Command, refresh bool) (*session, context.Context, context.CancelFunc, error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	storage, err := persist.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	api, err := remote.New(cfg, storage, logger)
	if err != nil {
		storage.Close()
		cancel()
		return nil, nil, nil, err
	}
	s := &session{ws: workspace.New(api, storage, cfg, logger), storage: storage}

	if refresh {
		if err := s.ws.Load(ctx); err != nil {
			warn(cmd, fmt.Sprintf("using cached state: %v", err))
			s.ws.ClearErrors()
		}
	}
	return s, ctx, cancel, nil
}

// activeOrArg returns args[0] when given, else the active chat id.
func activeOrArg(ws *workspace.Workspace, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	chat, ok := ws.Chats.ActiveChat()
	if !ok {
		return "", fmt.Errorf("no active chat; pass a chat id or run \"loopchat chats select <id>\"")
	}
	return chat.ID, nil
}
