package service

import (
	"context"
	"log"
	"time"
)

// RunHeartbeat пингует шлюз. В норме — раз в HeartbeatInterval.
// После обрыва переключается на реконнект с экспоненциальной паузой
// (base*2^n, потолок RetryCap) до первого успеха.
func (s *Supervisor) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	reconnectAttempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.probe(ctx)
		if err == nil {
			if reconnectAttempt > 0 {
				log.Printf("[SUP] heartbeat восстановлен после %d попыток", reconnectAttempt)
			}
			reconnectAttempt = 0
			s.reportSuccess()
			continue
		}

		s.markDisconnected("heartbeat", err)

		// обрыв: пробуем чаще, но с нарастающей паузой
		for {
			reconnectAttempt++
			d := backoffDelay(s.cfg.RetryBase, s.cfg.RetryCap, reconnectAttempt-1)
			log.Printf("[SUP] реконнект #%d через %s", reconnectAttempt, d)
			if sErr := s.sleep(ctx, d); sErr != nil {
				return
			}
			if err := s.probe(ctx); err == nil {
				s.reportSuccess()
				break
			}
		}
	}
}

func (s *Supervisor) probe(ctx context.Context) error {
	ctxT, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatInterval)
	defer cancel()
	return s.pinger.Ping(ctxT)
}
