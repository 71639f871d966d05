package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// eventEnvelope is the outer Slack Events API payload.
type eventEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Event     json.RawMessage `json:"event"`
}

type innerEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	Channel  string `json:"channel"`
	Reaction string `json:"reaction"`
	Item     struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	} `json:"item"`
}

// EventRouter receives Events API callbacks over HTTP and dispatches them to
// the workflow handlers. Events are acknowledged immediately and processed in
// the background, as the 3-second ack deadline demands.
type EventRouter struct {
	mentions  *MentionHandler
	reactions *ReactionHandler
	logger    *zap.Logger
}

// NewEventRouter wires the event intake.
// TODO: verify request signatures once SLACK_SIGNING_SECRET is provisioned.
func NewEventRouter(mentions *MentionHandler, reactions *ReactionHandler, logger *zap.Logger) *EventRouter {
	return &EventRouter{mentions: mentions, reactions: reactions, logger: logger}
}

// Routes builds a standalone router with the intake endpoint.
func (er *EventRouter) Routes() http.Handler {
	r := chi.NewRouter()
	er.Register(r)
	return r
}

// Register adds the intake endpoint to an existing router.
func (er *EventRouter) Register(r chi.Router) {
	r.Post("/slack/events", er.handleEvents)
}

func (er *EventRouter) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(envelope.Challenge))
	case "event_callback":
		er.dispatch(envelope.Event)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// dispatch acks first, works later: the handler runs detached from the
// request's lifetime.
func (er *EventRouter) dispatch(raw json.RawMessage) {
	var event innerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		er.logger.Warn("failed to parse event", zap.Error(err))
		return
	}

	switch event.Type {
	case "app_mention":
		go er.mentions.Handle(context.Background(), MentionEvent{
			Channel:  event.Channel,
			User:     event.User,
			TS:       event.TS,
			ThreadTS: event.ThreadTS,
			Text:     event.Text,
		})
	case "reaction_added":
		go er.reactions.Handle(context.Background(), ReactionEvent{
			Reaction:    event.Reaction,
			User:        event.User,
			ItemType:    event.Item.Type,
			ItemChannel: event.Item.Channel,
			ItemTS:      event.Item.TS,
		})
	default:
		er.logger.Debug("ignoring event", zap.String("type", event.Type))
	}
}
