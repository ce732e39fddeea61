package chatapp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tharunsathyamoorthy/chat-application/core"
)

// DeleteMessagePayload is the payload of a delete_message action.
type DeleteMessagePayload struct {
	ID int `json:"id"`
}

// SendMessageEventHandler appends the message to the shared log. The log
// broadcasts the resulting receive_message event to every connection,
// including the one the action arrived on.
func (app *App) SendMessageEventHandler(ctx context.Context, e *core.Event) error {
	var input core.MessageCreateInput
	if err := json.Unmarshal(e.Payload, &input); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", core.SendMessageEvent, err)
	}

	if _, err := app.chatLog.Append(ctx, input); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// DeleteMessageEventHandler removes the message from the shared log. A
// delete for an id that no longer exists is accepted and still broadcast;
// every client drops unknown ids on its own.
func (app *App) DeleteMessageEventHandler(ctx context.Context, e *core.Event) error {
	var payload DeleteMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", core.DeleteMessageEvent, err)
	}

	found, err := app.chatLog.Remove(ctx, payload.ID)
	if err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	if !found {
		app.logger.Debug(fmt.Sprintf("delete of unknown message %d from connection %d", payload.ID, e.Dispatcher))
	}
	return nil
}
