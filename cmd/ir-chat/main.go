package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"ir-chat/internal/auth"
	"ir-chat/internal/clipboard"
	"ir-chat/internal/collab"
	"ir-chat/internal/config"
	"ir-chat/internal/export"
	"ir-chat/internal/logging"
	"ir-chat/internal/transcript"
	"ir-chat/internal/ui"
	"ir-chat/internal/upload"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

var errNotAnswered = errors.New("question was not answered")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ir-chat:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      config.AppConfig
	log      *zap.Logger
	client   *collab.Client
	chat     *transcript.Manager
	uploads  *upload.Service
	exporter *export.Exporter
	gate     *auth.Gate
}

func run(args []string, out io.Writer) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}

	logger, closer := logging.New(cfg.LogFile, cfg.Debug)
	defer closer.Close()
	defer func() { _ = logger.Sync() }()

	a, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("starting",
		zap.String("base_url", a.client.BaseURL()),
		zap.Bool("headless", cfg.Headless()),
		zap.Bool("open_gate", a.gate.Open()),
	)

	if !cfg.Headless() {
		return a.interactive()
	}

	if d := a.gate.Check(cfg.Identity); d != auth.Granted {
		logger.Warn("access refused", zap.String("identity", cfg.Identity), zap.Stringer("decision", d))
		return fmt.Errorf("access %s for %q", d, cfg.Identity)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case cfg.Ask != "":
		return a.ask(ctx, out)
	case cfg.BatchFile != "":
		return a.batch(ctx, out)
	default:
		return a.uploadFile(ctx, out)
	}
}

func wire(cfg config.AppConfig, logger *zap.Logger) (*app, error) {
	list, err := auth.LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	gate := auth.NewGate(
		append(append([]string(nil), cfg.AllowedUsers...), list.Users...),
		append(append([]string(nil), cfg.AllowedDomains...), list.Domains...),
	)

	client := collab.New(collab.Config{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	chat := transcript.NewManager(client, transcript.Options{
		Timeout: cfg.Timeout,
		Logger:  logger.Named("transcript"),
	})
	exp, err := export.New(cfg.ExportDir, export.Names{User: cfg.UserName, Bot: cfg.BotName})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      logger,
		client:   client,
		chat:     chat,
		uploads:  upload.NewService(client, chat, exp.Dir(), logger.Named("upload")),
		exporter: exp,
		gate:     gate,
	}, nil
}

func (a *app) interactive() error {
	model := ui.NewModel(a.cfg, ui.Deps{
		Chat:     a.chat,
		Uploads:  a.uploads,
		Logs:     a.client,
		Exporter: a.exporter,
		Copier:   clipboard.New(),
		Gate:     a.gate,
		Logger:   a.log.Named("ui"),
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	if d := a.gate.Check(a.cfg.Identity); d != auth.Granted {
		return fmt.Errorf("access %s for %q", d, a.cfg.Identity)
	}
	return nil
}

func (a *app) ask(ctx context.Context, out io.Writer) error {
	t, ok := a.chat.Submit(ctx, a.cfg.Ask, a.cfg.Identity)
	if !ok {
		return errors.New("-ask needs a non-blank question")
	}
	<-t.Done()

	for _, m := range a.chat.Messages() {
		if m.ID != t.BotID {
			continue
		}
		fmt.Fprintln(out, m.Text)
		if m.State != transcript.Answered {
			return fmt.Errorf("%w: %s", errNotAnswered, m.State)
		}
		return nil
	}
	return errNotAnswered
}

func (a *app) batch(ctx context.Context, out io.Writer) error {
	questions, err := upload.ReadQuestions(a.cfg.BatchFile)
	if err != nil {
		return err
	}
	if err := a.chat.SubmitBatch(ctx, questions, a.cfg.Identity); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	fmt.Fprint(out, export.BuildTranscriptMarkdown(a.chat.Messages(), export.Names{User: a.cfg.UserName, Bot: a.cfg.BotName}))
	return nil
}

func (a *app) uploadFile(ctx context.Context, out io.Writer) error {
	res, err := a.uploads.Upload(ctx, a.cfg.UploadFile, a.cfg.Identity)
	fmt.Fprintln(out, res.Notice)
	if err != nil {
		return err
	}
	if res.SavedPath != "" {
		fmt.Fprintln(out, res.SavedPath)
		return nil
	}
	fmt.Fprint(out, export.BuildTranscriptMarkdown(a.chat.Messages(), export.Names{User: a.cfg.UserName, Bot: a.cfg.BotName}))
	return nil
}
