package bouncer

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/bobg/mid"
	"github.com/pkg/errors"
)

// OnIngest receives an event pushed by a Talk installation and publishes it
// onto the relay stream. Only the envelope is validated here; resolving the
// installation and fetching the comment happen on the consumer side, where
// failures can be retried.
func (s *Service) OnIngest(w http.ResponseWriter, req *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1<<20))
	if err != nil {
		return mid.CodeErr{C: http.StatusBadRequest, Err: errors.Wrap(err, "reading request body")}
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return mid.CodeErr{C: http.StatusBadRequest, Err: errors.Wrap(err, "parsing event")}
	}
	if event.Data.ID == "" || event.InstallID == "" {
		return mid.CodeErr{C: http.StatusBadRequest, Err: errors.New("event missing comment or installation id")}
	}

	id, err := s.Events.Publish(req.Context(), body)
	if err != nil {
		return errors.Wrap(err, "publishing event")
	}

	s.Logger.Debug().
		Str("message_id", id).
		Str("comment_id", event.Data.ID).
		Str("installation_id", event.InstallID).
		Msg("event accepted")

	w.WriteHeader(http.StatusAccepted)
	return nil
}
