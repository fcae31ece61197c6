package identityclient

import "sync"

// Pool keeps one Client per tab so the tab's Identity API cookies outlive the
// session gates created for it.
type Pool struct {
	factory Factory

	mu      sync.Mutex
	clients map[string]Client
}

func NewPool(factory Factory) *Pool {
	return &Pool{factory: factory, clients: make(map[string]Client)}
}

// Client returns the tab's client, creating it on first use.
func (p *Pool) Client(tabID string) Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, ok := p.clients[tabID]
	if !ok {
		client = p.factory(tabID)
		p.clients[tabID] = client
	}

	return client
}

// Reset replaces the tab's client with a fresh one, discarding its cookies.
func (p *Pool) Reset(tabID string) Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	client := p.factory(tabID)
	p.clients[tabID] = client

	return client
}

// Forget drops the tab's client.
func (p *Pool) Forget(tabID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.clients, tabID)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.clients)
}
