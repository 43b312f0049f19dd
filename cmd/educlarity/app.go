package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/educlarity/educlarity/config"
	"github.com/ZanzyTHEbar/educlarity/educlarity/db"
	"github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness"
	"github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
	"github.com/ZanzyTHEbar/educlarity/educlarity/learning"
	"github.com/ZanzyTHEbar/educlarity/educlarity/logging"
	"github.com/ZanzyTHEbar/educlarity/educlarity/roster"
)

// app holds the components shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	conn   *sql.DB
	roster *roster.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.New(cfg.Logging, nil)

	a := &app{cfg: cfg, logger: logger}
	var store roster.Store
	if cfg.Database.Enabled {
		conn, err := db.Open(ctx, cfg.Database.Path, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("database unavailable, roster and history kept in memory")
		} else {
			a.conn = conn
			store = roster.NewLibSQLStore(conn)
		}
	}
	a.roster = roster.NewService(store, logger)
	return a, nil
}

func (a *app) gateway(ctx context.Context) (*harness.Gateway, error) {
	return harness.NewFactory(a.cfg, a.conn, a.logger).CreateGateway(ctx)
}

// history loads persisted turns of a conversation as caller history.
func (a *app) history(ctx context.Context, conversationID string) []learning.Turn {
	if a.conn == nil || conversationID == "" {
		return nil
	}
	turns, err := adapters.NewLibSQLConversationStore(a.conn).LoadContext(ctx, conversationID, a.cfg.Harness.MaxTurns)
	if err != nil {
		a.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to load history")
		return nil
	}
	return toHistory(turns)
}

func (a *app) Close() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

func toHistory(turns []ports.Turn) []learning.Turn {
	out := make([]learning.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role != ports.RoleUser && t.Role != ports.RoleModel {
			continue
		}
		out = append(out, learning.Turn{Role: learning.Role(t.Role), Text: t.Content})
	}
	return out
}

// run builds the app, invokes fn and releases resources.
func run(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// readInput joins the positional arguments, or reads stdin when there are none.
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
