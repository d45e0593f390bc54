package bouncer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bobg/mid"
)

type AdminCmd struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// OnAdmin handles key-checked admin commands. On shutdown it stops the HTTP
// server gracefully, cancels the relay via stopRelay, and closes ch so the
// serve loop can exit.
func (s *Service) OnAdmin(httpServer *http.Server, stopRelay context.CancelFunc, ch chan struct{}) func(context.Context, AdminCmd) error {
	return func(ctx context.Context, cmd AdminCmd) error {
		if cmd.Key != s.AdminKey {
			return mid.CodeErr{C: http.StatusUnauthorized}
		}
		switch cmd.Name {
		case "shutdown":
			// Run the following in a goroutine,
			// so this handler can finish,
			// which is required for the call to Shutdown to finish.
			// (Deadlock otherwise.)
			go func() {
				stopRelay()
				httpServer.Shutdown(ctx)
				close(ch)
			}()
			return nil
		}

		return mid.CodeErr{
			C:   http.StatusBadRequest,
			Err: fmt.Errorf("unknown admin command %s", cmd.Name),
		}
	}
}
