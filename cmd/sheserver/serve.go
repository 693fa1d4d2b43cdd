package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aidangarske/wolfHSM/she"
	"github.com/aidangarske/wolfHSM/transport"
)

// serve runs the single-threaded cooperative server loop (spec §5):
// poll for a request, dispatch it, send the response, repeat. No SHE
// handler may suspend, so the loop never blocks inside Dispatch.
func serve(ctx context.Context, ep *transport.Endpoint, d *she.Dispatcher, log *logrus.Logger, pollInterval time.Duration) error {
	buf := make([]byte, ep.PayloadSize())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, status := ep.RecvRequest(buf)
		if status == transport.NotReady {
			time.Sleep(pollInterval)
			continue
		}
		if status != transport.OK {
			log.WithField("status", status.String()).Warn("sheserver: malformed request, dropping")
			continue
		}

		action, body, err := decodeFrame(buf[:n])
		if err != nil {
			log.WithError(err).Warn("sheserver: undecodable frame")
			continue
		}

		respBody, rc := d.Dispatch(action, body)
		frame := encodeFrame(int32(rc), respBody)

		if status := ep.SendResponse(frame); status != transport.OK {
			log.WithField("status", status.String()).Error("sheserver: failed to send response")
		}
	}
}
