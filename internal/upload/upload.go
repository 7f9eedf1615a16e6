// Package upload handles question documents: server-side processing of
// spreadsheets, Word and PDF files, and local plain-text question lists.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ir-chat/internal/collab"
	"ir-chat/internal/transcript"

	"go.uber.org/zap"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

const (
	UnsupportedNotice = "Unsupported file type. Please upload a .xlsx, .docx, or .pdf file."
	SuccessNotice     = "Document processed and downloaded."
	MergedNotice      = "Document processed; answers added to the chat."
	FailureNotice     = "Failed to process the document."
	UnexpectedNotice  = "Unexpected error during file upload."
)

var serverTypes = map[string]struct{}{".xlsx": {}, ".docx": {}, ".pdf": {}}

// Validate accepts only the document types the answer service can parse.
func Validate(path string) error {
	if _, ok := serverTypes[strings.ToLower(filepath.Ext(path))]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Base(path))
	}
	return nil
}

// OutputName is the file name of the answered document the service returns:
// Word for .docx and .pdf uploads, Excel otherwise.
func OutputName(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx", ".pdf":
		return "question_answers.docx"
	default:
		return "question_answers.xlsx"
	}
}

// NoticeFor maps an upload failure to the message shown to the user.
func NoticeFor(err error) string {
	if errors.Is(err, ErrUnsupportedFileType) {
		return UnsupportedNotice
	}
	var statusErr *collab.StatusError
	if errors.As(err, &statusErr) {
		msg, ok, decodeErr := statusErr.ServerMessage()
		switch {
		case decodeErr != nil:
			return UnexpectedNotice
		case ok:
			return msg
		}
	}
	return FailureNotice
}

type Uploader interface {
	UploadQuestions(ctx context.Context, filename string, file io.Reader, email string) (collab.UploadResult, error)
}

type Outcome struct {
	// SavedPath is set when the service answered with a document.
	SavedPath string
	// Merged counts question/answer pairs added to the transcript.
	Merged int
	Notice string
}

type Service struct {
	client    Uploader
	chat      *transcript.Manager
	exportDir string
	log       *zap.Logger
}

func NewService(client Uploader, chat *transcript.Manager, exportDir string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{client: client, chat: chat, exportDir: exportDir, log: log}
}

// Upload sends a question document to the service. Unsupported files are
// rejected before any request and leave the transcript untouched.
func (s *Service) Upload(ctx context.Context, path, identity string) (Outcome, error) {
	if err := Validate(path); err != nil {
		return Outcome{Notice: UnsupportedNotice}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Outcome{Notice: FailureNotice}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	finish := s.chat.BeginUpload()
	res, err := s.client.UploadQuestions(ctx, path, f, identity)
	if err != nil {
		finish(transcript.UploadFailed)
		s.log.Error("upload failed", zap.String("file", filepath.Base(path)), zap.Error(err))
		return Outcome{Notice: NoticeFor(err)}, err
	}

	if res.Batch != nil {
		s.chat.Merge(res.Batch.Questions, res.Batch.Answers)
		finish(transcript.UploadSucceeded)
		s.log.Info("upload merged", zap.String("file", filepath.Base(path)), zap.Int("questions", len(res.Batch.Questions)))
		return Outcome{Merged: len(res.Batch.Questions), Notice: MergedNotice}, nil
	}

	out := filepath.Join(s.exportDir, OutputName(path))
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		finish(transcript.UploadFailed)
		return Outcome{Notice: FailureNotice}, fmt.Errorf("create export directory: %w", err)
	}
	if err := os.WriteFile(out, res.Document, 0o644); err != nil {
		finish(transcript.UploadFailed)
		return Outcome{Notice: FailureNotice}, fmt.Errorf("write answered document: %w", err)
	}
	finish(transcript.UploadSucceeded)
	s.log.Info("upload saved", zap.String("file", filepath.Base(path)), zap.String("output", out), zap.Int("bytes", len(res.Document)))
	return Outcome{SavedPath: out, Notice: SuccessNotice}, nil
}
