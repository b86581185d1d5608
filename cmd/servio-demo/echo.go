// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"

	"github.com/bassosimone/servio"
)

// newEchoService returns a WebSocket [servio.Service] echoing every data frame.
//
// It accepts the first subprotocol requested by the client, if any, and
// ends the session when the client closes.
func newEchoService() servio.Service {
	return servio.ServiceFunc(func(ctx context.Context, ex *servio.Exchange) (servio.Stream, error) {
		var subprotocol string
		if ws, found := servio.Get[*servio.WebSocketScope](ex.Scope); found && len(ws.Subprotocols) > 0 {
			subprotocol = ws.Subprotocols[0]
		}
		accepted := false
		return servio.StreamFunc(func(ctx context.Context) (servio.Event, error) {
			for {
				ev, err := ex.Inbound.Next(ctx)
				if err != nil {
					return servio.Event{}, err
				}
				switch payload := ev.Payload().(type) {
				case servio.Connect:
					if !accepted {
						accepted = true
						return servio.NewWebSocketEvent(servio.Accept{Subprotocol: subprotocol}), nil
					}
				case servio.TextFrame:
					return servio.NewWebSocketEvent(payload), nil
				case servio.BinaryFrame:
					return servio.NewWebSocketEvent(payload), nil
				case servio.Close:
					return servio.NewWebSocketEvent(payload), nil
				}
			}
		}), nil
	})
}
