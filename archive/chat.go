package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// ChatMessage is one turn of the analyst conversation about a run.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *Archive) chatKey(runID string) string { return a.chatPrefix + runID + ".json" }

// LoadChat returns the conversation of runID, oldest first. A run nobody has asked about yet
// has an empty conversation.
func (a *Archive) LoadChat(ctx context.Context, runID string) ([]ChatMessage, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}
	data, err := a.store.Get(ctx, a.chatKey(runID))
	if errors.Is(err, ErrNotFound) {
		return []ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load chat %s: %w", runID, err)
	}
	var msgs []ChatMessage
	if err := sonic.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("archive: decode chat %s: %w", runID, err)
	}
	return msgs, nil
}

// AppendChat adds msgs to the end of runID's conversation.
func (a *Archive) AppendChat(ctx context.Context, runID string, msgs ...ChatMessage) error {
	a.chatMu.Lock()
	defer a.chatMu.Unlock()
	history, err := a.LoadChat(ctx, runID)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(append(history, msgs...))
	if err != nil {
		return fmt.Errorf("archive: encode chat %s: %w", runID, err)
	}
	if err := a.store.Put(ctx, a.chatKey(runID), data); err != nil {
		return fmt.Errorf("archive: save chat %s: %w", runID, err)
	}
	return nil
}
