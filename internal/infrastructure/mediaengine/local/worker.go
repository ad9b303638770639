package local

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"roomsignal/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// worker is a logical media worker. Each one owns a DTLS certificate whose
// fingerprint is advertised by every transport created on its routers.
type worker struct {
	index        int
	fingerprints []domain.DTLSFingerprint
	routers      map[domain.RouterID]*routerState
}

func newWorker(index int) (*worker, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate worker key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("generate worker certificate: %w", err)
	}
	fps, err := cert.GetFingerprints()
	if err != nil {
		return nil, fmt.Errorf("worker certificate fingerprints: %w", err)
	}

	w := &worker{
		index:   index,
		routers: make(map[domain.RouterID]*routerState),
	}
	for _, fp := range fps {
		w.fingerprints = append(w.fingerprints, domain.DTLSFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return w, nil
}

func (w *worker) stats() domain.WorkerStats {
	s := domain.WorkerStats{Index: w.index, Routers: len(w.routers)}
	for _, r := range w.routers {
		s.Transports += len(r.transports)
		s.Producers += len(r.producers)
		for _, t := range r.transports {
			s.Consumers += len(t.consumers)
		}
	}
	return s
}

type routerState struct {
	router     *domain.Router
	worker     *worker
	transports map[domain.TransportID]*transportState
	producers  map[domain.ProducerID]*producerState
}

type transportState struct {
	transport *domain.Transport
	router    *routerState
	connected bool
	remote    domain.DTLSParameters
	producers map[domain.ProducerID]*producerState
	consumers map[domain.ConsumerID]*consumerState
}

type producerState struct {
	producer  *domain.Producer
	transport *transportState
	paused    bool
	consumers map[domain.ConsumerID]*consumerState
}

type consumerState struct {
	consumer  *domain.Consumer
	transport *transportState
	producer  *producerState
	paused    bool
}
