// internal/testutil/fakes.go
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/javajoker/popup-portal/internal/services"
)

// FakeProvider hands out sequential checkout references.
type FakeProvider struct {
	mu        sync.Mutex
	next      int
	Requests  []*services.CheckoutRequest
	Expired   []string
	CreateErr error
}

func (p *FakeProvider) Name() string {
	return "stripe"
}

func (p *FakeProvider) CreateCheckout(ctx context.Context, req *services.CheckoutRequest) (*services.CheckoutHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.next++
	p.Requests = append(p.Requests, req)
	ref := fmt.Sprintf("cs_test_%03d", p.next)
	return &services.CheckoutHandle{
		ExternalReference: ref,
		CheckoutURL:       "https://checkout.example.com/" + ref,
	}, nil
}

func (p *FakeProvider) ExpireCheckout(ctx context.Context, externalReference string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Expired = append(p.Expired, externalReference)
	return nil
}

func (p *FakeProvider) ExpiredRefs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Expired...)
}

// RecordingMailer keeps every message it is asked to send.
type RecordingMailer struct {
	mu   sync.Mutex
	sent []*services.EmailMessage
	Err  error
}

func (m *RecordingMailer) Send(ctx context.Context, msg *services.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *RecordingMailer) Sent() []*services.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*services.EmailMessage(nil), m.sent...)
}
