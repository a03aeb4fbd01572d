package app

import (
	"context"

	"github.com/charmbracelet/log"

	"canvas/internal/collab"
	"canvas/internal/replica"
)

// DocumentSource opens the replicated document a canvas session syncs
// into. release is called when the session closes.
type DocumentSource interface {
	Open(ctx context.Context, canvasID string) (doc replica.Document, release func() error, err error)
}

// OfflineSource gives every canvas a private in-memory document.
type OfflineSource struct{}

func (OfflineSource) Open(context.Context, string) (replica.Document, func() error, error) {
	return replica.NewMemoryDocument(), nil, nil
}

// HubSource syncs canvases into the rooms of an in-process collaboration
// hub, so websocket peers see local edits and the other way round.
type HubSource struct {
	Hub *collab.Hub
}

func (s HubSource) Open(_ context.Context, canvasID string) (replica.Document, func() error, error) {
	return s.Hub.Document(canvasID), nil, nil
}

// RemoteSource syncs canvases through a collaboration server elsewhere.
type RemoteSource struct {
	URL    string
	Token  string
	Logger *log.Logger
}

func (s RemoteSource) Open(ctx context.Context, canvasID string) (replica.Document, func() error, error) {
	r, err := collab.Dial(ctx, collab.RemoteOptions{
		URL:      s.URL,
		CanvasID: canvasID,
		Token:    s.Token,
		Logger:   s.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
