package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/reminders"
)

// fakeService is an in-memory reminder service that records every call.
type fakeService struct {
	mu      sync.Mutex
	alerts  map[string]reminders.Alert
	order   []string
	calls   []string
	seq     int
	failOn  map[int]error // create call number (1-based) -> error
	creates int
}

func newFakeService() *fakeService {
	return &fakeService{alerts: make(map[string]reminders.Alert), failOn: make(map[int]error)}
}

func (f *fakeService) Create(ctx context.Context, alert reminders.Alert) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err, ok := f.failOn[f.creates]; ok {
		f.calls = append(f.calls, "create:fail")
		return "", err
	}
	f.seq++
	tok := fmt.Sprintf("tok-%d", f.seq)
	alert.AlertToken = tok
	f.alerts[tok] = alert
	f.order = append(f.order, tok)
	f.calls = append(f.calls, "create:"+tok)
	return tok, nil
}

func (f *fakeService) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete:"+token)
	if _, ok := f.alerts[token]; !ok {
		return &reminders.APIError{Op: "delete", Status: 404, Err: reminders.ErrNotFound}
	}
	delete(f.alerts, token)
	for i, t := range f.order {
		if t == token {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeService) Get(ctx context.Context, token string) (*reminders.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get:"+token)
	a, ok := f.alerts[token]
	if !ok {
		return nil, &reminders.APIError{Op: "get", Status: 404, Err: reminders.ErrNotFound}
	}
	return &a, nil
}

func (f *fakeService) List(ctx context.Context) ([]reminders.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	out := make([]reminders.Alert, 0, len(f.order))
	for _, tok := range f.order {
		out = append(out, f.alerts[tok])
	}
	return out, nil
}

type fakePatcher struct {
	patches []string
	err     error
}

func (p *fakePatcher) PatchTherapy(ctx context.Context, token, therapyID string, flag models.EditFlag) error {
	p.patches = append(p.patches, therapyID+"="+string(flag))
	return p.err
}
